// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"context"
	"fmt"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
	"github.com/fluffyriot/fbtracker/internal/packages"
	log "github.com/sirupsen/logrus"
)

// PackageStore is the part of *packages.Store the loader needs.
type PackageStore interface {
	GetPackageWithUpdates(ctx context.Context, id string) (*packages.MergedPackage, error)
	SaveIncrementalUpdate(ctx context.Context, packageID string, newPosts []domain.Post, newComments []domain.Comment, updatedPosts []domain.Post) (*domain.IncrementalUpdate, error)
}

// Delta holds what changed in a package's sources since it was last fetched.
type Delta struct {
	PackageID         string             `json:"packageId"`
	NewPosts          []domain.Post      `json:"newPosts"`
	NewComments       []domain.Comment   `json:"newComments"`
	UpdatedPosts      []domain.Post      `json:"updatedPosts"`
	RestrictedSources []RestrictedSource `json:"restrictedSources"`
}

func (d *Delta) Empty() bool {
	return len(d.NewPosts) == 0 && len(d.NewComments) == 0 && len(d.UpdatedPosts) == 0
}

// LoadIncrementalUpdates fetches the package's sources again, limited to
// posts newer than the last fetch, and diffs them against the merged view.
func (l *Loader) LoadIncrementalUpdates(ctx context.Context, sess domain.Session, packageID string) (*Delta, error) {
	if l.store == nil {
		return nil, fmt.Errorf("incremental load: no package store configured")
	}
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	merged, err := l.store.GetPackageWithUpdates(ctx, packageID)
	if err != nil {
		return nil, err
	}

	since := merged.Package.Metadata.LastFetchedAt
	if since.IsZero() {
		since = merged.Package.Metadata.DateRange.End
	}

	p := &pass{
		fetcher: l.fetcher,
		sess:    sess,
		opts: fetcher.FetchOptions{
			Since:           since,
			IncludeComments: true,
		},
		maxItems:  l.opts.IncrementalMaxItems,
		batchSize: l.opts.PageSize,
	}

	out := p.run(ctx, merged.Package.Sources)
	if out.stopped {
		return nil, ctx.Err()
	}
	if out.err != nil {
		return nil, fmt.Errorf("incremental load for package %s: %w", packageID, out.err)
	}

	delta := diff(merged, out.posts)
	delta.PackageID = packageID
	delta.RestrictedSources = out.restricted

	log.WithFields(log.Fields{
		"package":  packageID,
		"newPosts": len(delta.NewPosts),
		"comments": len(delta.NewComments),
		"updated":  len(delta.UpdatedPosts),
	}).Info("Loader: Incremental load finished")

	return delta, nil
}

// diff splits fetched posts into new and changed ones. A known post counts as
// updated when its comment count or message differs.
func diff(merged *packages.MergedPackage, fetched []domain.Post) *Delta {
	knownPosts := make(map[string]domain.Post, len(merged.Posts))
	for _, p := range merged.Posts {
		knownPosts[p.ID] = p
	}
	knownComments := make(map[string]bool, len(merged.Comments))
	for _, c := range merged.Comments {
		knownComments[c.ID] = true
	}

	delta := &Delta{}
	seenPosts := make(map[string]bool)

	for _, p := range fetched {
		if seenPosts[p.ID] {
			continue
		}
		seenPosts[p.ID] = true

		if old, ok := knownPosts[p.ID]; ok {
			if old.CommentCount != p.CommentCount || old.Message != p.Message {
				delta.UpdatedPosts = append(delta.UpdatedPosts, p)
			}
		} else {
			delta.NewPosts = append(delta.NewPosts, p)
		}

		for _, c := range p.Comments {
			if knownComments[c.ID] {
				continue
			}
			knownComments[c.ID] = true
			delta.NewComments = append(delta.NewComments, c)
		}
	}

	return delta
}

// RefreshPackage loads incremental updates for a package and records them.
// An empty delta is not stored and returns a nil update.
func (l *Loader) RefreshPackage(ctx context.Context, sess domain.Session, packageID string) (*domain.IncrementalUpdate, *Delta, error) {
	delta, err := l.LoadIncrementalUpdates(ctx, sess, packageID)
	if err != nil {
		return nil, nil, err
	}
	if delta.Empty() {
		return nil, delta, nil
	}

	update, err := l.store.SaveIncrementalUpdate(ctx, packageID, delta.NewPosts, delta.NewComments, delta.UpdatedPosts)
	if err != nil {
		return nil, delta, fmt.Errorf("save incremental update: %w", err)
	}
	return update, delta, nil
}
