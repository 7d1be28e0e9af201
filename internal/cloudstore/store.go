// SPDX-License-Identifier: AGPL-3.0-only
package cloudstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("not found")

// Settings is the per-user document kept in the cloud store.
type Settings struct {
	EncryptedToken []byte          `json:"encryptedToken,omitempty"`
	TokenNonce     []byte          `json:"tokenNonce,omitempty"`
	APIVersion     string          `json:"apiVersion,omitempty"`
	Groups         []domain.Source `json:"groups"`
	Pages          []domain.Source `json:"pages"`
	PhoneFile      string          `json:"phoneFile,omitempty"`
}

// Sources returns the configured groups followed by the pages.
func (s *Settings) Sources() []domain.Source {
	out := make([]domain.Source, 0, len(s.Groups)+len(s.Pages))
	for _, g := range s.Groups {
		g.Kind = domain.KindGroup
		out = append(out, g)
	}
	for _, p := range s.Pages {
		p.Kind = domain.KindPage
		out = append(out, p)
	}
	return out
}

func (s *Settings) HasToken() bool {
	return len(s.EncryptedToken) > 0
}

// Store is a get/put document store keyed by user id.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres and applies migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the DB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to the DB: %w", err)
	}

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(log.StandardLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.EnsureDBVersion(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get DB version: %w", err)
	}
	log.Printf("Migrations applied successfully. Current DB version: %d", version)

	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM user_settings WHERE user_id = $1`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings for %s: %w", userID, err)
	}

	var settings Settings
	if err := json.Unmarshal(doc, &settings); err != nil {
		return nil, fmt.Errorf("decode settings for %s: %w", userID, err)
	}
	return &settings, nil
}

// PutSettings replaces the settings document of a user.
func (s *Store) PutSettings(ctx context.Context, userID string, settings *Settings) error {
	doc, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, document, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		userID, doc, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put settings for %s: %w", userID, err)
	}
	return nil
}

// SavePhoneRecord stores a found phone number. Records are never updated, so
// a second save for the same user is ignored.
func (s *Store) SavePhoneRecord(ctx context.Context, ownerID string, rec domain.PhoneRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phone_records (owner_id, user_id, phone, source, discovered_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id, user_id) DO NOTHING`,
		ownerID, rec.UserID, rec.Phone, rec.Source, rec.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("save phone record for %s: %w", rec.UserID, err)
	}
	return nil
}

// ListPhoneRecords returns the owner's records, most recent first.
func (s *Store) ListPhoneRecords(ctx context.Context, ownerID string) ([]domain.PhoneRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, phone, source, discovered_at
		FROM phone_records WHERE owner_id = $1
		ORDER BY discovered_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list phone records: %w", err)
	}
	defer rows.Close()

	out := []domain.PhoneRecord{}
	for rows.Next() {
		var rec domain.PhoneRecord
		if err := rows.Scan(&rec.UserID, &rec.Phone, &rec.Source, &rec.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan phone record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list phone records: %w", err)
	}
	return out, nil
}
