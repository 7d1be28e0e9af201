// SPDX-License-Identifier: AGPL-3.0-only
package packages

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/metrics"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrPackageNotFound = errors.New("package not found")

type Options struct {
	// CompactAfter folds a package's updates into its base snapshot once it
	// has more than this many. Zero disables automatic compaction.
	CompactAfter int
}

// Store keeps data packages and their incremental updates in an embedded
// SQLite database.
type Store struct {
	db   *sql.DB
	opts Options
	now  func() time.Time
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens or creates the database at path and applies migrations. Use
// ":memory:" for a throwaway store.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	// Single writer. Also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open local store: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(log.StandardLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run local store migrations: %w", err)
	}

	return &Store{db: db, opts: opts, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SavePackage stores a new package and returns its id. Users are derived from
// posts and comments when nil.
func (s *Store) SavePackage(ctx context.Context, name string, sources []domain.Source, posts []domain.Post, comments []domain.Comment, users []domain.User, analytics json.RawMessage) (string, error) {
	now := s.now().UTC()
	if users == nil {
		users = domain.CollectUsers(posts, comments)
	}

	pkg := &domain.DataPackage{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Sources:   sources,
		Posts:     posts,
		Comments:  comments,
		Users:     users,
		Analytics: analytics,
	}
	pkg.Metadata.LastFetchedAt = now

	err := s.insertPackage(ctx, pkg)
	metrics.ObserveStore("save_package", err)
	if err != nil {
		return "", err
	}

	log.WithFields(log.Fields{"package": pkg.ID, "posts": len(posts), "comments": len(comments)}).
		Info("Store: Saved package")
	return pkg.ID, nil
}

func (s *Store) insertPackage(ctx context.Context, pkg *domain.DataPackage) error {
	if pkg.Name == "" {
		return fmt.Errorf("save package: name is required")
	}
	normalizePackage(pkg)
	pkg.Metadata = computeMetadata(pkg, nil, pkg.Metadata.LastFetchedAt)

	row, err := encodePackage(pkg)
	if err != nil {
		return fmt.Errorf("save package: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO data_packages (id, name, created_at, updated_at, sources, posts, comments, users, analytics, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.id, row.name, row.createdAt, row.updatedAt, row.sources, row.posts, row.comments, row.users, row.analytics, row.metadata,
	)
	if err != nil {
		return fmt.Errorf("save package %s: %w", pkg.ID, err)
	}
	return nil
}

// SaveIncrementalUpdate appends an update to a package and refreshes the
// package's metadata in the same transaction. The base arrays are untouched.
func (s *Store) SaveIncrementalUpdate(ctx context.Context, packageID string, newPosts []domain.Post, newComments []domain.Comment, updatedPosts []domain.Post) (*domain.IncrementalUpdate, error) {
	now := s.now().UTC()
	update := &domain.IncrementalUpdate{
		ID:           uuid.NewString(),
		PackageID:    packageID,
		Timestamp:    now,
		NewPosts:     nonNilPosts(newPosts),
		NewComments:  nonNilComments(newComments),
		UpdatedPosts: nonNilPosts(updatedPosts),
		Type:         domain.UpdateTypeFor(newPosts, updatedPosts, newComments),
	}

	var pending int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		pkg, err := getPackage(ctx, tx, packageID)
		if err != nil {
			return err
		}
		updates, err := listUpdates(ctx, tx, packageID)
		if err != nil {
			return err
		}

		row, err := encodeUpdate(update)
		if err != nil {
			return fmt.Errorf("encode update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO incremental_updates (id, package_id, created_at, type, new_posts, new_comments, updated_posts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			row.id, row.packageID, row.createdAt, row.kind, row.newPosts, row.newComments, row.updatedPosts,
		); err != nil {
			return fmt.Errorf("insert update for package %s: %w", packageID, err)
		}

		updates = append(updates, *update)
		pending = len(updates)

		meta := computeMetadata(pkg, updates, now)
		return updatePackageHeader(ctx, tx, packageID, meta, now)
	})
	metrics.ObserveStore("save_update", err)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"package": packageID, "update": update.ID, "type": update.Type}).
		Info("Store: Saved incremental update")

	if s.opts.CompactAfter > 0 && pending > s.opts.CompactAfter {
		if err := s.Compact(ctx, packageID); err != nil {
			log.Printf("Store: Automatic compaction of %s failed: %v", packageID, err)
		}
	}

	return update, nil
}

// GetPackage returns the stored base record of a package without its updates.
func (s *Store) GetPackage(ctx context.Context, id string) (*domain.DataPackage, error) {
	pkg, err := getPackage(ctx, s.db, id)
	metrics.ObserveStore("get_package", err)
	return pkg, err
}

// GetPackageWithUpdates returns the package merged with every update in the
// order they were recorded.
func (s *Store) GetPackageWithUpdates(ctx context.Context, id string) (*MergedPackage, error) {
	pkg, err := getPackage(ctx, s.db, id)
	if err != nil {
		metrics.ObserveStore("get_merged", err)
		return nil, err
	}
	updates, err := listUpdates(ctx, s.db, id)
	metrics.ObserveStore("get_merged", err)
	if err != nil {
		return nil, err
	}
	return Merge(pkg, updates), nil
}

// ListPackages returns summaries of all packages, newest first.
func (s *Store) ListPackages(ctx context.Context) ([]domain.PackageSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.created_at, p.updated_at, p.sources, p.metadata,
		       (SELECT COUNT(*) FROM incremental_updates u WHERE u.package_id = p.id)
		FROM data_packages p
		ORDER BY p.created_at DESC, p.rowid DESC`)
	if err != nil {
		metrics.ObserveStore("list_packages", err)
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []domain.PackageSummary
	for rows.Next() {
		var (
			summary                   domain.PackageSummary
			createdAt, updatedAt      string
			sourcesJSON, metadataJSON string
		)
		if err := rows.Scan(&summary.ID, &summary.Name, &createdAt, &updatedAt, &sourcesJSON, &metadataJSON, &summary.UpdateCount); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		if summary.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if summary.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(sourcesJSON), &summary.Sources); err != nil {
			return nil, fmt.Errorf("decode sources of %s: %w", summary.ID, err)
		}
		if err := json.Unmarshal([]byte(metadataJSON), &summary.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", summary.ID, err)
		}
		out = append(out, summary)
	}
	err = rows.Err()
	metrics.ObserveStore("list_packages", err)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return out, nil
}

// DeletePackage removes a package and all of its updates.
func (s *Store) DeletePackage(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM incremental_updates WHERE package_id = ?`, id); err != nil {
			return fmt.Errorf("delete updates of %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM data_packages WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete package %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete package %s: %w", id, err)
		}
		if n == 0 {
			return ErrPackageNotFound
		}
		return nil
	})
	metrics.ObserveStore("delete_package", err)
	if err == nil {
		log.Printf("Store: Deleted package %s", id)
	}
	return err
}

// ClearAll removes every package and update.
func (s *Store) ClearAll(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM incremental_updates`); err != nil {
			return fmt.Errorf("clear updates: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM data_packages`); err != nil {
			return fmt.Errorf("clear packages: %w", err)
		}
		return nil
	})
	metrics.ObserveStore("clear_all", err)
	return err
}

func getPackage(ctx context.Context, q querier, id string) (*domain.DataPackage, error) {
	var row packageRow
	err := q.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at, sources, posts, comments, users, analytics, metadata
		FROM data_packages WHERE id = ?`, id,
	).Scan(&row.id, &row.name, &row.createdAt, &row.updatedAt, &row.sources, &row.posts, &row.comments, &row.users, &row.analytics, &row.metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get package %s: %w", id, err)
	}
	return row.decode()
}

func listUpdates(ctx context.Context, q querier, packageID string) ([]domain.IncrementalUpdate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, package_id, created_at, type, new_posts, new_comments, updated_posts
		FROM incremental_updates WHERE package_id = ? ORDER BY seq`, packageID)
	if err != nil {
		return nil, fmt.Errorf("list updates of %s: %w", packageID, err)
	}
	defer rows.Close()

	var out []domain.IncrementalUpdate
	for rows.Next() {
		var row updateRow
		if err := rows.Scan(&row.id, &row.packageID, &row.createdAt, &row.kind, &row.newPosts, &row.newComments, &row.updatedPosts); err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		u, err := row.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list updates of %s: %w", packageID, err)
	}
	return out, nil
}

func updatePackageHeader(ctx context.Context, q querier, id string, meta domain.PackageMetadata, updatedAt time.Time) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = q.ExecContext(ctx, `UPDATE data_packages SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(metaJSON), formatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("update package %s: %w", id, err)
	}
	return nil
}
