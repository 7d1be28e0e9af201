// SPDX-License-Identifier: AGPL-3.0-only
package packages

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
)

type packageRow struct {
	id, name             string
	createdAt, updatedAt string
	sources, posts       string
	comments, users      string
	analytics            sql.NullString
	metadata             string
}

type updateRow struct {
	id, packageID string
	createdAt     string
	kind          string
	newPosts      string
	newComments   string
	updatedPosts  string
}

// storedTimeLayout is fixed width so stored times sort as text.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func encodePackage(pkg *domain.DataPackage) (*packageRow, error) {
	row := &packageRow{
		id:        pkg.ID,
		name:      pkg.Name,
		createdAt: formatTime(pkg.CreatedAt),
		updatedAt: formatTime(pkg.UpdatedAt),
	}

	fields := []struct {
		dst *string
		v   any
	}{
		{&row.sources, pkg.Sources},
		{&row.posts, pkg.Posts},
		{&row.comments, pkg.Comments},
		{&row.users, pkg.Users},
		{&row.metadata, pkg.Metadata},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return nil, err
		}
		*f.dst = string(b)
	}

	if len(pkg.Analytics) > 0 {
		row.analytics = sql.NullString{String: string(pkg.Analytics), Valid: true}
	}
	return row, nil
}

func (r *packageRow) decode() (*domain.DataPackage, error) {
	pkg := &domain.DataPackage{ID: r.id, Name: r.name}

	var err error
	if pkg.CreatedAt, err = parseTime(r.createdAt); err != nil {
		return nil, err
	}
	if pkg.UpdatedAt, err = parseTime(r.updatedAt); err != nil {
		return nil, err
	}

	fields := []struct {
		src string
		dst any
	}{
		{r.sources, &pkg.Sources},
		{r.posts, &pkg.Posts},
		{r.comments, &pkg.Comments},
		{r.users, &pkg.Users},
		{r.metadata, &pkg.Metadata},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decode package %s: %w", r.id, err)
		}
	}

	if r.analytics.Valid {
		pkg.Analytics = json.RawMessage(r.analytics.String)
	}
	return pkg, nil
}

func encodeUpdate(u *domain.IncrementalUpdate) (*updateRow, error) {
	row := &updateRow{
		id:        u.ID,
		packageID: u.PackageID,
		createdAt: formatTime(u.Timestamp),
		kind:      string(u.Type),
	}

	fields := []struct {
		dst *string
		v   any
	}{
		{&row.newPosts, u.NewPosts},
		{&row.newComments, u.NewComments},
		{&row.updatedPosts, u.UpdatedPosts},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return nil, err
		}
		*f.dst = string(b)
	}
	return row, nil
}

func (r *updateRow) decode() (*domain.IncrementalUpdate, error) {
	u := &domain.IncrementalUpdate{
		ID:        r.id,
		PackageID: r.packageID,
		Type:      domain.UpdateType(r.kind),
	}

	var err error
	if u.Timestamp, err = parseTime(r.createdAt); err != nil {
		return nil, err
	}

	fields := []struct {
		src string
		dst any
	}{
		{r.newPosts, &u.NewPosts},
		{r.newComments, &u.NewComments},
		{r.updatedPosts, &u.UpdatedPosts},
	}
	for _, f := range fields {
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decode update %s: %w", r.id, err)
		}
	}
	return u, nil
}
