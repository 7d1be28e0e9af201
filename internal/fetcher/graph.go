// SPDX-License-Identifier: AGPL-3.0-only
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	log "github.com/sirupsen/logrus"
)

const graphTimeLayout = "2006-01-02T15:04:05-0700"

const defaultCommentLimit = 25

func edgeFor(kind domain.SourceKind) string {
	if kind == domain.KindPage {
		return "posts"
	}
	return "feed"
}

func (c *Client) feedURL(sess domain.Session, source domain.Source, opts FetchOptions) string {
	commentLimit := 0
	if opts.IncludeComments {
		commentLimit = opts.CommentLimit
		if commentLimit <= 0 {
			commentLimit = defaultCommentLimit
		}
	}

	fields := fmt.Sprintf(
		"id,message,created_time,from{id,name},comments.summary(true).limit(%d){id,message,created_time,from{id,name},like_count}",
		commentLimit,
	)

	params := url.Values{}
	params.Set("fields", fields)
	params.Set("limit", strconv.Itoa(c.clampPageSize(opts.PageSize)))
	params.Set("access_token", sess.AccessToken)
	if opts.After != "" {
		params.Set("after", opts.After)
	}
	if !opts.Since.IsZero() {
		params.Set("since", strconv.FormatInt(opts.Since.Unix(), 10))
	}

	return fmt.Sprintf("%s/%s/%s/%s?%s",
		c.baseURL, normalizeVersion(sess.APIVersion), url.PathEscape(source.ID), edgeFor(source.Kind), params.Encode())
}

// FetchPage requests one page of posts for source. Restricted sources come
// back as a Page with Restricted set rather than as an error. Errors are
// either *TransportError or wrap ErrInvalidToken.
func (c *Client) FetchPage(ctx context.Context, sess domain.Session, source domain.Source, opts FetchOptions) (*Page, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}
	if !source.Kind.Valid() {
		return nil, fmt.Errorf("source %s: unknown kind %q", source.ID, source.Kind)
	}

	data, status, err := c.get(ctx, c.feedURL(sess, source, opts))
	if err != nil {
		return nil, &TransportError{SourceID: source.ID, Status: status, Err: err}
	}

	var apiErr graphErrorBody
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != nil {
		restriction, err := classifyAPIError(status, &apiErr)
		if err != nil {
			return nil, err
		}
		return &Page{Restricted: restriction}, nil
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &Page{Restricted: &Restriction{Kind: RestrictedRateLimit, Reason: http.StatusText(status)}}, nil
	case status >= 500:
		return nil, &TransportError{SourceID: source.ID, Status: status, Err: errors.New(http.StatusText(status))}
	case status >= 300:
		return &Page{Restricted: &Restriction{Kind: RestrictedUnavailable, Reason: http.StatusText(status)}}, nil
	}

	var feed graphFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, &TransportError{SourceID: source.ID, Status: status, Err: fmt.Errorf("decode feed: %w", err)}
	}

	items := make([]domain.Post, 0, len(feed.Data))
	for _, item := range feed.Data {
		if item.ID == "" {
			continue
		}
		items = append(items, normalizePost(item, source))
	}

	return &Page{
		Items:     items,
		NextToken: nextToken(feed),
	}, nil
}

// nextToken extracts the continuation token from the "after" parameter of
// paging.next. No next link means the source is exhausted.
func nextToken(feed graphFeed) string {
	if feed.Paging.Next == "" {
		return ""
	}
	if u, err := url.Parse(feed.Paging.Next); err == nil {
		if after := u.Query().Get("after"); after != "" {
			return after
		}
	}
	return feed.Paging.Cursors.After
}

func parseGraphTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(graphTimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func normalizePost(item graphPost, source domain.Source) domain.Post {
	post := domain.Post{
		ID:         item.ID,
		CreatedAt:  parseGraphTime(item.CreatedTime),
		AuthorID:   item.From.ID,
		AuthorName: item.From.Name,
		SourceID:   source.ID,
		SourceKind: source.Kind,
		SourceName: source.Name(),
		Message:    item.Message,
	}

	for _, c := range item.Comments.Data {
		if c.ID == "" {
			continue
		}
		post.Comments = append(post.Comments, domain.Comment{
			ID:         c.ID,
			PostID:     item.ID,
			AuthorID:   c.From.ID,
			AuthorName: c.From.Name,
			CreatedAt:  parseGraphTime(c.CreatedTime),
			Message:    c.Message,
			LikeCount:  c.LikeCount,
		})
	}

	post.CommentCount = len(post.Comments)
	if item.Comments.Summary != nil && item.Comments.Summary.TotalCount > post.CommentCount {
		post.CommentCount = item.Comments.Summary.TotalCount
	}

	return post
}

// ResolveSourceName looks up the display name of a group or page. Any
// failure falls back to the id.
func (c *Client) ResolveSourceName(ctx context.Context, sess domain.Session, source domain.Source) string {
	params := url.Values{}
	params.Set("fields", "name")
	params.Set("access_token", sess.AccessToken)

	endpoint := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, normalizeVersion(sess.APIVersion), url.PathEscape(source.ID), params.Encode())

	data, status, err := c.get(ctx, endpoint)
	if err != nil || status != http.StatusOK {
		log.Printf("Graph: Failed to resolve name for %s %s (status %d): %v", source.Kind, source.ID, status, err)
		return source.ID
	}

	var res struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &res); err != nil || res.Name == "" {
		return source.ID
	}
	return res.Name
}
