// SPDX-License-Identifier: AGPL-3.0-only
package domain

import "errors"

var ErrMissingToken = errors.New("access token is not configured")

// Session carries the per-call credentials for the Graph API. It is passed
// explicitly into the fetcher and loader instead of being read from globals.
type Session struct {
	UserID      string
	AccessToken string
	APIVersion  string
}

func (s Session) Validate() error {
	if s.AccessToken == "" {
		return ErrMissingToken
	}
	return nil
}

type LoadStatus string

const (
	StatusIdle      LoadStatus = "idle"
	StatusLoading   LoadStatus = "loading"
	StatusCompleted LoadStatus = "completed"
	StatusError     LoadStatus = "error"
	StatusStopped   LoadStatus = "stopped"
)

// Progress is reported to the caller after every page fetch.
type Progress struct {
	CurrentSource  string     `json:"currentSource"`
	CurrentBatch   int        `json:"currentBatch"`
	TotalBatches   int        `json:"totalBatches"`
	LoadedPosts    int        `json:"loadedPosts"`
	LoadedComments int        `json:"loadedComments"`
	Status         LoadStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
}
