// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
)

var (
	testNow     = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	testSession = domain.Session{UserID: "u1", AccessToken: "tok"}
)

type fetchCall struct {
	source string
	opts   fetcher.FetchOptions
}

// fakeFetcher serves scripted pages keyed by source id and continuation token.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]map[string]*fetcher.Page
	errs    map[string]error
	calls   []fetchCall
	onFetch func(call fetchCall)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string]map[string]*fetcher.Page),
		errs:  make(map[string]error),
	}
}

// feed registers pages for a source. Page i is served for token "<id>-<i>"
// and the first page for the empty token.
func (f *fakeFetcher) feed(sourceID string, pages ...[]domain.Post) {
	m := make(map[string]*fetcher.Page)
	for i, items := range pages {
		after := ""
		if i > 0 {
			after = fmt.Sprintf("%s-%d", sourceID, i)
		}
		next := ""
		if i < len(pages)-1 {
			next = fmt.Sprintf("%s-%d", sourceID, i+1)
		}
		m[after] = &fetcher.Page{Items: items, NextToken: next}
	}
	f.pages[sourceID] = m
}

func (f *fakeFetcher) restrict(sourceID string, kind fetcher.RestrictionKind) {
	f.pages[sourceID] = map[string]*fetcher.Page{
		"": {Restricted: &fetcher.Restriction{Kind: kind, Reason: "not allowed"}},
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, sess domain.Session, source domain.Source, opts fetcher.FetchOptions) (*fetcher.Page, error) {
	call := fetchCall{source: source.ID, opts: opts}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	hook := f.onFetch
	err := f.errs[source.ID]
	page := f.pages[source.ID][opts.After]
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return nil, err
	}
	if page == nil {
		return &fetcher.Page{}, nil
	}

	out := *page
	out.Items = append([]domain.Post(nil), page.Items...)
	return &out, nil
}

func (f *fakeFetcher) callsFor(sourceID string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.source == sourceID {
			out = append(out, c)
		}
	}
	return out
}

// makePosts builds n posts for a source, one hour apart going back from start.
func makePosts(sourceID string, n int, start time.Time) []domain.Post {
	posts := make([]domain.Post, n)
	for i := range posts {
		id := fmt.Sprintf("%s_%d", sourceID, i)
		posts[i] = domain.Post{
			ID:         id,
			CreatedAt:  start.Add(-time.Duration(i) * time.Hour),
			AuthorID:   fmt.Sprintf("a%d", i%3),
			AuthorName: fmt.Sprintf("Author %d", i%3),
			SourceID:   sourceID,
			SourceKind: domain.KindGroup,
			Message:    fmt.Sprintf("post %d", i),
		}
	}
	return posts
}

func group(id string) domain.Source {
	return domain.Source{ID: id, Kind: domain.KindGroup}
}
