// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"context"
	"errors"

	"github.com/fluffyriot/fbtracker/internal/cursor"
	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
	"github.com/fluffyriot/fbtracker/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// PageFetcher is implemented by *fetcher.Client.
type PageFetcher interface {
	FetchPage(ctx context.Context, sess domain.Session, source domain.Source, opts fetcher.FetchOptions) (*fetcher.Page, error)
}

type RestrictedSource struct {
	Source    domain.Source           `json:"source"`
	Kind      fetcher.RestrictionKind `json:"kind"`
	Reason    string                  `json:"reason"`
	Retryable bool                    `json:"retryable"`
}

// pass walks a list of sources one page at a time, in order, until the item
// cap is reached. It is shared by bulk and incremental loads.
type pass struct {
	fetcher   PageFetcher
	tracker   *cursor.Tracker
	sess      domain.Session
	opts      fetcher.FetchOptions
	maxItems  int
	batchSize int
	stopped   func() bool
	onPage    func(source domain.Source, batch int, posts []domain.Post)
}

type outcome struct {
	posts      []domain.Post
	restricted []RestrictedSource
	batches    int
	stopped    bool
	err        error
}

func (p *pass) run(ctx context.Context, sources []domain.Source) outcome {
	var out outcome

	for _, source := range sources {
		if p.tracker != nil {
			p.tracker.Clear(source.Kind, source.ID)
		}

		seen := make(map[string]bool)
		after := ""

		for {
			if len(out.posts) >= p.maxItems {
				return out
			}
			if ctx.Err() != nil || (p.stopped != nil && p.stopped()) {
				out.stopped = true
				return out
			}

			remaining := p.maxItems - len(out.posts)
			opts := p.opts
			opts.After = after
			opts.PageSize = min(p.batchSize, remaining)

			page, err := p.fetcher.FetchPage(ctx, p.sess, source, opts)
			if err != nil {
				if ctx.Err() != nil {
					out.stopped = true
					return out
				}
				metrics.PagesFetched.WithLabelValues(string(source.Kind), "error").Inc()
				log.WithFields(log.Fields{"source": source.ID, "kind": source.Kind}).Errorf("Loader: Fetch failed: %v", err)
				out.err = err
				return out
			}
			out.batches++

			if page.Restricted != nil {
				metrics.PagesFetched.WithLabelValues(string(source.Kind), "restricted").Inc()
				metrics.RestrictedSources.WithLabelValues(string(page.Restricted.Kind)).Inc()
				log.WithFields(log.Fields{"source": source.ID, "kind": source.Kind, "reason": page.Restricted.Kind}).
					Warnf("Loader: Skipping restricted source: %s", page.Restricted.Reason)

				out.restricted = append(out.restricted, RestrictedSource{
					Source:    source,
					Kind:      page.Restricted.Kind,
					Reason:    page.Restricted.Reason,
					Retryable: page.Restricted.Retryable(),
				})
				if p.tracker != nil {
					p.tracker.Clear(source.Kind, source.ID)
				}
				if p.onPage != nil {
					p.onPage(source, out.batches, out.posts)
				}
				break
			}
			metrics.PagesFetched.WithLabelValues(string(source.Kind), "ok").Inc()

			items := page.Items
			if len(items) > remaining {
				items = items[:remaining]
			}
			out.posts = append(out.posts, items...)

			next := page.NextToken
			if seen[next] {
				next = ""
			}
			if p.tracker != nil {
				p.tracker.Set(source.Kind, source.ID, next)
			}
			if p.onPage != nil {
				p.onPage(source, out.batches, out.posts)
			}

			if next == "" {
				break
			}
			seen[next] = true
			after = next
		}
	}

	return out
}

func isInvalidToken(err error) bool {
	return errors.Is(err, fetcher.ErrInvalidToken)
}
