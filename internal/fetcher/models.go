// SPDX-License-Identifier: AGPL-3.0-only
package fetcher

import (
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
)

type FetchOptions struct {
	// After is the continuation token from the previous page of the same
	// source. Empty requests the first page.
	After           string
	PageSize        int
	Since           time.Time
	IncludeComments bool
	CommentLimit    int
}

// Page is the normalized result of one feed request. A restricted page
// carries no items and no continuation token.
type Page struct {
	Items      []domain.Post
	NextToken  string
	Restricted *Restriction
}

func (p *Page) HasMore() bool {
	return p.NextToken != ""
}

type graphActor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type graphComment struct {
	ID          string     `json:"id"`
	Message     string     `json:"message"`
	CreatedTime string     `json:"created_time"`
	From        graphActor `json:"from"`
	LikeCount   int        `json:"like_count"`
}

type graphPost struct {
	ID          string     `json:"id"`
	Message     string     `json:"message"`
	CreatedTime string     `json:"created_time"`
	From        graphActor `json:"from"`
	Comments    struct {
		Data    []graphComment `json:"data"`
		Summary *struct {
			TotalCount int `json:"total_count"`
		} `json:"summary,omitempty"`
	} `json:"comments"`
}

type graphFeed struct {
	Data   []graphPost `json:"data"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Next string `json:"next,omitempty"`
	} `json:"paging"`
}

type graphErrorBody struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}
