// SPDX-License-Identifier: AGPL-3.0-only
package domain

import (
	"encoding/json"
	"time"
)

// SourceKind is the type of Facebook object a Source points at.
type SourceKind string

const (
	KindGroup SourceKind = "group"
	KindPage  SourceKind = "page"
)

// Valid reports whether k is one of the known kinds.
func (k SourceKind) Valid() bool {
	return k == KindGroup || k == KindPage
}

// Source identifies an external content origin. ID is unique per Kind.
type Source struct {
	ID          string     `json:"id"`
	Kind        SourceKind `json:"kind"`
	DisplayName string     `json:"displayName,omitempty"`
}

// Name returns the display name, falling back to the id while it is unresolved.
func (s Source) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.ID
}

type Post struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"createdAt"`
	AuthorID     string     `json:"authorId"`
	AuthorName   string     `json:"authorName"`
	SourceID     string     `json:"sourceId"`
	SourceKind   SourceKind `json:"sourceKind"`
	SourceName   string     `json:"sourceName,omitempty"`
	Message      string     `json:"message,omitempty"`
	CommentCount int        `json:"commentCount"`
	Comments     []Comment  `json:"comments,omitempty"`
}

type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"postId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	CreatedAt  time.Time `json:"createdAt"`
	Message    string    `json:"message"`
	LikeCount  int       `json:"likeCount"`
}

// User is derived from the authors of posts and comments.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PostCount    int    `json:"postCount"`
	CommentCount int    `json:"commentCount"`
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Extend widens r so that it covers t.
func (r *DateRange) Extend(t time.Time) {
	if t.IsZero() {
		return
	}
	if r.Start.IsZero() || t.Before(r.Start) {
		r.Start = t
	}
	if r.End.IsZero() || t.After(r.End) {
		r.End = t
	}
}

type PackageMetadata struct {
	TotalPosts    int       `json:"totalPosts"`
	TotalComments int       `json:"totalComments"`
	TotalUsers    int       `json:"totalUsers"`
	DateRange     DateRange `json:"dateRange"`
	SizeBytes     int64     `json:"sizeBytes"`
	LastFetchedAt time.Time `json:"lastFetchedAt"`
}

// DataPackage is a named snapshot of fetched data. Metadata counts always equal
// the base arrays plus every incremental update recorded against the package.
type DataPackage struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Sources   []Source        `json:"sources"`
	Posts     []Post          `json:"posts"`
	Comments  []Comment       `json:"comments"`
	Users     []User          `json:"users"`
	Analytics json.RawMessage `json:"analyticsSnapshot,omitempty"`
	Metadata  PackageMetadata `json:"metadata"`
}

// PackageSummary is a DataPackage without its content arrays.
type PackageSummary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Sources     []Source        `json:"sources"`
	Metadata    PackageMetadata `json:"metadata"`
	UpdateCount int             `json:"updateCount"`
}

type UpdateType string

const (
	UpdatePosts    UpdateType = "posts"
	UpdateComments UpdateType = "comments"
	UpdateBoth     UpdateType = "both"
)

// IncrementalUpdate is an append-only delta merged into its package at read time.
type IncrementalUpdate struct {
	ID           string     `json:"id"`
	PackageID    string     `json:"packageId"`
	Timestamp    time.Time  `json:"timestamp"`
	NewPosts     []Post     `json:"newPosts"`
	NewComments  []Comment  `json:"newComments"`
	UpdatedPosts []Post     `json:"updatedPosts"`
	Type         UpdateType `json:"type"`
}

// UpdateTypeFor classifies a delta by which of its parts are non-empty.
func UpdateTypeFor(newPosts, updatedPosts []Post, newComments []Comment) UpdateType {
	hasPosts := len(newPosts) > 0 || len(updatedPosts) > 0
	hasComments := len(newComments) > 0
	switch {
	case hasPosts && hasComments:
		return UpdateBoth
	case hasComments:
		return UpdateComments
	default:
		return UpdatePosts
	}
}

type PhoneRecord struct {
	UserID       string    `json:"userId"`
	Phone        string    `json:"phone"`
	Source       string    `json:"source"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}
