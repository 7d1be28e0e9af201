// SPDX-License-Identifier: AGPL-3.0-only
package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/metrics"
	"github.com/google/uuid"
)

var ErrInvalidFile = errors.New("invalid package file")

// ExportedPackage is the package header written to export files.
type ExportedPackage struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	Sources   []domain.Source        `json:"sources"`
	Users     []domain.User          `json:"users"`
	Analytics json.RawMessage        `json:"analyticsSnapshot,omitempty"`
	Metadata  domain.PackageMetadata `json:"metadata"`
}

// ExportDocument is the file format of ExportPackage and ImportPackage.
type ExportDocument struct {
	Package    *ExportedPackage           `json:"package"`
	Posts      []domain.Post              `json:"posts"`
	Comments   []domain.Comment           `json:"comments"`
	Updates    []domain.IncrementalUpdate `json:"updates"`
	ExportedAt time.Time                  `json:"exportedAt"`
}

// ExportPackage writes the merged view of a package to w as JSON.
func (s *Store) ExportPackage(ctx context.Context, id string, w io.Writer) error {
	merged, err := s.GetPackageWithUpdates(ctx, id)
	if err != nil {
		return err
	}

	pkg := merged.Package
	doc := ExportDocument{
		Package: &ExportedPackage{
			ID:        pkg.ID,
			Name:      pkg.Name,
			CreatedAt: pkg.CreatedAt,
			UpdatedAt: pkg.UpdatedAt,
			Sources:   pkg.Sources,
			Users:     merged.Users,
			Analytics: pkg.Analytics,
			Metadata:  pkg.Metadata,
		},
		Posts:      merged.Posts,
		Comments:   merged.Comments,
		Updates:    merged.Updates,
		ExportedAt: s.now().UTC(),
	}
	if doc.Updates == nil {
		doc.Updates = []domain.IncrementalUpdate{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err = enc.Encode(doc)
	metrics.ObserveStore("export_package", err)
	if err != nil {
		return fmt.Errorf("export package %s: %w", id, err)
	}
	return nil
}

// ImportPackage reads an export file and saves it as a new package. The whole
// document is parsed and checked before anything is written.
func (s *Store) ImportPackage(ctx context.Context, r io.Reader) (string, error) {
	doc, err := parseExport(r)
	if err != nil {
		metrics.ObserveStore("import_package", err)
		return "", err
	}

	now := s.now().UTC()
	pkg := &domain.DataPackage{
		ID:        uuid.NewString(),
		Name:      doc.Package.Name,
		CreatedAt: now,
		UpdatedAt: now,
		Sources:   doc.Package.Sources,
		Posts:     doc.Posts,
		Comments:  doc.Comments,
		Users:     doc.Package.Users,
		Analytics: doc.Package.Analytics,
	}
	pkg.Metadata.LastFetchedAt = doc.Package.Metadata.LastFetchedAt
	if pkg.Metadata.LastFetchedAt.IsZero() {
		pkg.Metadata.LastFetchedAt = now
	}
	if pkg.Users == nil {
		pkg.Users = domain.CollectUsers(pkg.Posts, pkg.Comments)
	}

	err = s.insertPackage(ctx, pkg)
	metrics.ObserveStore("import_package", err)
	if err != nil {
		return "", err
	}
	return pkg.ID, nil
}

func parseExport(r io.Reader) (*ExportDocument, error) {
	var doc ExportDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	if doc.Package == nil {
		return nil, fmt.Errorf("%w: missing package", ErrInvalidFile)
	}
	if doc.Package.Name == "" {
		return nil, fmt.Errorf("%w: package has no name", ErrInvalidFile)
	}
	for i, p := range doc.Posts {
		if p.ID == "" {
			return nil, fmt.Errorf("%w: post %d has no id", ErrInvalidFile, i)
		}
	}
	for i, c := range doc.Comments {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: comment %d has no id", ErrInvalidFile, i)
		}
	}
	for _, src := range doc.Package.Sources {
		if src.ID == "" || !src.Kind.Valid() {
			return nil, fmt.Errorf("%w: invalid source %q", ErrInvalidFile, src.ID)
		}
	}
	return &doc, nil
}
