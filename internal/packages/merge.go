// SPDX-License-Identifier: AGPL-3.0-only
package packages

import (
	"encoding/json"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
)

// MergedPackage is a package as seen by readers: the base snapshot with
// every incremental update applied.
type MergedPackage struct {
	Package  *domain.DataPackage        `json:"package"`
	Posts    []domain.Post              `json:"posts"`
	Comments []domain.Comment           `json:"comments"`
	Users    []domain.User              `json:"users"`
	Updates  []domain.IncrementalUpdate `json:"updates"`
}

// Merge applies updates to the base arrays of pkg in order. New posts and
// comments are appended. Updated posts replace the post with the same id and
// are ignored when no such post exists. pkg is not modified.
func Merge(pkg *domain.DataPackage, updates []domain.IncrementalUpdate) *MergedPackage {
	posts := append([]domain.Post(nil), pkg.Posts...)
	comments := append([]domain.Comment(nil), pkg.Comments...)

	index := make(map[string]int, len(posts))
	for i, p := range posts {
		index[p.ID] = i
	}

	for _, u := range updates {
		for _, p := range u.NewPosts {
			index[p.ID] = len(posts)
			posts = append(posts, p)
		}
		comments = append(comments, u.NewComments...)
		for _, p := range u.UpdatedPosts {
			if i, ok := index[p.ID]; ok {
				posts[i] = p
			}
		}
	}

	users := pkg.Users
	if len(updates) > 0 || users == nil {
		users = domain.CollectUsers(posts, comments)
	}

	return &MergedPackage{
		Package:  pkg,
		Posts:    nonNilPosts(posts),
		Comments: nonNilComments(comments),
		Users:    users,
		Updates:  updates,
	}
}

func computeMetadata(pkg *domain.DataPackage, updates []domain.IncrementalUpdate, lastFetchedAt time.Time) domain.PackageMetadata {
	merged := Merge(pkg, updates)

	meta := domain.PackageMetadata{
		TotalPosts:    len(merged.Posts),
		TotalComments: len(merged.Comments),
		TotalUsers:    len(merged.Users),
		LastFetchedAt: lastFetchedAt,
	}
	for _, p := range merged.Posts {
		meta.DateRange.Extend(p.CreatedAt)
	}

	base := *pkg
	base.Metadata = domain.PackageMetadata{}
	meta.SizeBytes = encodedSize(base)
	for _, u := range updates {
		meta.SizeBytes += encodedSize(u)
	}

	return meta
}

func encodedSize(v any) int64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(b))
}

func normalizePackage(pkg *domain.DataPackage) {
	if pkg.Sources == nil {
		pkg.Sources = []domain.Source{}
	}
	pkg.Posts = nonNilPosts(pkg.Posts)
	pkg.Comments = nonNilComments(pkg.Comments)
	if pkg.Users == nil {
		pkg.Users = []domain.User{}
	}
}

func nonNilPosts(p []domain.Post) []domain.Post {
	if p == nil {
		return []domain.Post{}
	}
	return p
}

func nonNilComments(c []domain.Comment) []domain.Comment {
	if c == nil {
		return []domain.Comment{}
	}
	return c
}
