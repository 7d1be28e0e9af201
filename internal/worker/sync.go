// SPDX-License-Identifier: AGPL-3.0-only
package worker

import (
	"context"
	"fmt"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/loader"
	log "github.com/sirupsen/logrus"
)

type PackageLister interface {
	ListPackages(ctx context.Context) ([]domain.PackageSummary, error)
}

type Refresher interface {
	RefreshPackage(ctx context.Context, sess domain.Session, packageID string) (*domain.IncrementalUpdate, *loader.Delta, error)
}

// SessionSource returns the session used for background refreshes.
type SessionSource func(ctx context.Context) (domain.Session, error)

type RunSummary struct {
	Refreshed int
	Unchanged int
	Failed    int
}

// RunRefresh refreshes every stored package once, one after another.
// Failures are logged and counted; they are not retried until the next run.
func RunRefresh(ctx context.Context, packages PackageLister, r Refresher, sessions SessionSource) (RunSummary, error) {
	log.Println("Worker: Starting package refresh...")

	sess, err := sessions(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("worker session: %w", err)
	}

	list, err := packages.ListPackages(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("worker list packages: %w", err)
	}

	var summary RunSummary
	for _, pkg := range list {
		if ctx.Err() != nil {
			break
		}

		changed, err := refreshPackageInternal(ctx, r, sess, pkg.ID)
		switch {
		case err != nil:
			summary.Failed++
			log.Printf("Worker Package refresh FAILED (package=%s name=%q): %v", pkg.ID, pkg.Name, err)
		case changed:
			summary.Refreshed++
		default:
			summary.Unchanged++
		}
	}

	log.Printf(
		"Worker: Completed refresh of %d packages (%d updated, %d unchanged, %d failed)",
		len(list),
		summary.Refreshed,
		summary.Unchanged,
		summary.Failed,
	)
	return summary, nil
}

func refreshPackageInternal(ctx context.Context, r Refresher, sess domain.Session, id string) (changed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in package refresh: %v", rec)
		}
	}()

	update, delta, err := r.RefreshPackage(ctx, sess, id)
	if err != nil {
		return false, err
	}
	if delta != nil && len(delta.RestrictedSources) > 0 {
		log.Printf("Worker: Package %s has %d restricted sources", id, len(delta.RestrictedSources))
	}
	return update != nil, nil
}
