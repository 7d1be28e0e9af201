// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"sort"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher/common"
)

// window returns the inclusive bounds of a time range relative to now. A zero
// bound is open.
func window(r TimeRange, start, end, now time.Time) (time.Time, time.Time) {
	switch r {
	case RangeToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), time.Time{}
	case RangeWeek:
		return now.AddDate(0, 0, -7), time.Time{}
	case RangeMonth:
		return now.AddDate(0, 0, -30), time.Time{}
	case RangeCustom:
		return start, end
	default:
		return time.Time{}, time.Time{}
	}
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

// applyFilters narrows posts to the requested time window and keyword and
// orders the result. The input slice is not modified.
func applyFilters(posts []domain.Post, req Request, now time.Time) []domain.Post {
	from, to := window(req.TimeRange, req.CustomStart, req.CustomEnd, now)

	out := make([]domain.Post, 0, len(posts))
	for _, p := range posts {
		if !inWindow(p.CreatedAt, from, to) {
			continue
		}
		if !common.ContainsKeyword(p.Message, req.Keyword) {
			continue
		}
		out = append(out, p)
	}

	sortPosts(out, req.SortBy)
	return out
}

func sortPosts(posts []domain.Post, order SortOrder) {
	switch order {
	case SortOldest:
		sort.SliceStable(posts, func(i, j int) bool {
			return posts[i].CreatedAt.Before(posts[j].CreatedAt)
		})
	case SortMostComments:
		sort.SliceStable(posts, func(i, j int) bool {
			return posts[i].CommentCount > posts[j].CommentCount
		})
	default:
		sort.SliceStable(posts, func(i, j int) bool {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		})
	}
}
