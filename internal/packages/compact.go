// SPDX-License-Identifier: AGPL-3.0-only
package packages

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fluffyriot/fbtracker/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Compact folds every update of a package into its base snapshot and deletes
// the updates. The merged view and the metadata counts do not change.
func (s *Store) Compact(ctx context.Context, id string) error {
	var folded int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		pkg, err := getPackage(ctx, tx, id)
		if err != nil {
			return err
		}
		updates, err := listUpdates(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}

		merged := Merge(pkg, updates)
		pkg.Posts = merged.Posts
		pkg.Comments = merged.Comments
		pkg.Users = merged.Users
		pkg.Metadata = computeMetadata(pkg, nil, pkg.Metadata.LastFetchedAt)

		row, err := encodePackage(pkg)
		if err != nil {
			return fmt.Errorf("encode package %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE data_packages SET posts = ?, comments = ?, users = ?, metadata = ? WHERE id = ?`,
			row.posts, row.comments, row.users, row.metadata, id,
		); err != nil {
			return fmt.Errorf("rewrite package %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM incremental_updates WHERE package_id = ?`, id); err != nil {
			return fmt.Errorf("delete updates of %s: %w", id, err)
		}

		folded = len(updates)
		return nil
	})
	metrics.ObserveStore("compact", err)
	if err != nil {
		return err
	}

	if folded > 0 {
		log.WithFields(log.Fields{"package": id, "updates": folded}).Info("Store: Compacted package")
	}
	return nil
}
