// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"context"
	"sync"

	"github.com/fluffyriot/fbtracker/internal/cursor"
	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
)

// Batch is what one Refresh or LoadOlder call adds to the feed. When a fetch
// fails part way, the batch holds what the earlier sources returned.
type Batch struct {
	Posts             []domain.Post      `json:"posts"`
	RestrictedSources []RestrictedSource `json:"restrictedSources"`
	HasMore           bool               `json:"hasMore"`
}

type sourceKey struct {
	kind domain.SourceKind
	id   string
}

// Pager browses a feed page by page. Each source keeps its own cursor, so an
// exhausted source does not hold back the others.
type Pager struct {
	fetcher         PageFetcher
	tracker         *cursor.Tracker
	pageSize        int
	includeComments bool

	mu       sync.Mutex
	sources  []domain.Source
	consumed map[sourceKey]map[string]bool
}

func NewPager(f PageFetcher, pageSize int, includeComments bool) *Pager {
	return &Pager{
		fetcher:         f,
		tracker:         cursor.NewTracker(),
		pageSize:        pageSize,
		includeComments: includeComments,
		consumed:        make(map[sourceKey]map[string]bool),
	}
}

// Refresh starts a new browsing session over sources and fetches the first
// page of each.
func (p *Pager) Refresh(ctx context.Context, sess domain.Session, sources []domain.Source) (*Batch, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.sources = append([]domain.Source(nil), sources...)
	p.consumed = make(map[sourceKey]map[string]bool)
	p.mu.Unlock()
	p.tracker.Reset()

	return p.fetchAll(ctx, sess, sources, false)
}

// LoadOlder fetches the next page of every source that still has one.
func (p *Pager) LoadOlder(ctx context.Context, sess domain.Session) (*Batch, error) {
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	sources := p.sources
	p.mu.Unlock()

	return p.fetchAll(ctx, sess, sources, true)
}

func (p *Pager) HasMorePosts() bool {
	return p.tracker.HasMore()
}

func (p *Pager) fetchAll(ctx context.Context, sess domain.Session, sources []domain.Source, older bool) (*Batch, error) {
	batch := &Batch{}

	for _, source := range sources {
		after := ""
		if older {
			tok, ok := p.tracker.Get(source.Kind, source.ID)
			if !ok {
				continue
			}
			after = tok
			p.markConsumed(source, tok)
		}

		page, err := p.fetcher.FetchPage(ctx, sess, source, fetcher.FetchOptions{
			After:           after,
			PageSize:        p.pageSize,
			IncludeComments: p.includeComments,
		})
		if err != nil {
			sortPosts(batch.Posts, SortNewest)
			batch.HasMore = p.tracker.HasMore()
			return batch, err
		}

		if page.Restricted != nil {
			batch.RestrictedSources = append(batch.RestrictedSources, RestrictedSource{
				Source:    source,
				Kind:      page.Restricted.Kind,
				Reason:    page.Restricted.Reason,
				Retryable: page.Restricted.Retryable(),
			})
			p.tracker.Clear(source.Kind, source.ID)
			continue
		}

		batch.Posts = append(batch.Posts, page.Items...)

		next := page.NextToken
		if p.wasConsumed(source, next) {
			next = ""
		}
		p.tracker.Set(source.Kind, source.ID, next)
	}

	sortPosts(batch.Posts, SortNewest)
	batch.HasMore = p.tracker.HasMore()
	return batch, nil
}

func (p *Pager) markConsumed(source domain.Source, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := sourceKey{source.Kind, source.ID}
	if p.consumed[k] == nil {
		p.consumed[k] = make(map[string]bool)
	}
	p.consumed[k][token] = true
}

func (p *Pager) wasConsumed(source domain.Source, token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consumed[sourceKey{source.Kind, source.ID}][token]
}

// ConsumedTokens returns how many continuation tokens a source has used in
// the current session.
func (p *Pager) ConsumedTokens(source domain.Source) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.consumed[sourceKey{source.Kind, source.ID}])
}
