// SPDX-License-Identifier: AGPL-3.0-only
package stats

import (
	"encoding/json"
	"sort"

	"github.com/fluffyriot/fbtracker/internal/domain"
)

const topLimit = 10

type DayPoint struct {
	Date     string `json:"date"`
	Posts    int    `json:"posts"`
	Comments int    `json:"comments"`
}

type UserCount struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
}

// Snapshot is stored as the opaque analytics of a data package.
type Snapshot struct {
	TotalPosts             int         `json:"totalPosts"`
	TotalComments          int         `json:"totalComments"`
	AverageCommentsPerPost float64     `json:"averageCommentsPerPost"`
	PerDay                 []DayPoint  `json:"perDay"`
	TopAuthors             []UserCount `json:"topAuthors"`
	TopCommenters          []UserCount `json:"topCommenters"`
}

func Compute(posts []domain.Post, comments []domain.Comment) Snapshot {
	days := make(map[string]*DayPoint)
	day := func(key string) *DayPoint {
		if _, ok := days[key]; !ok {
			days[key] = &DayPoint{Date: key}
		}
		return days[key]
	}

	authors := make(map[string]*UserCount)
	commenters := make(map[string]*UserCount)

	totalCommentCount := 0
	for _, p := range posts {
		if !p.CreatedAt.IsZero() {
			day(p.CreatedAt.UTC().Format("2006-01-02")).Posts++
		}
		countUser(authors, p.AuthorID, p.AuthorName)
		totalCommentCount += p.CommentCount
	}

	for _, c := range comments {
		if !c.CreatedAt.IsZero() {
			day(c.CreatedAt.UTC().Format("2006-01-02")).Comments++
		}
		countUser(commenters, c.AuthorID, c.AuthorName)
	}

	snap := Snapshot{
		TotalPosts:    len(posts),
		TotalComments: len(comments),
		PerDay:        []DayPoint{},
		TopAuthors:    top(authors),
		TopCommenters: top(commenters),
	}
	if len(posts) > 0 {
		snap.AverageCommentsPerPost = float64(totalCommentCount) / float64(len(posts))
	}

	for _, d := range days {
		snap.PerDay = append(snap.PerDay, *d)
	}
	sort.Slice(snap.PerDay, func(i, j int) bool { return snap.PerDay[i].Date < snap.PerDay[j].Date })

	return snap
}

// JSON encodes the snapshot for DataPackage.Analytics.
func (s Snapshot) JSON() (json.RawMessage, error) {
	return json.Marshal(s)
}

func countUser(m map[string]*UserCount, id, name string) {
	if id == "" {
		return
	}
	if _, ok := m[id]; !ok {
		m[id] = &UserCount{UserID: id, Name: name}
	}
	m[id].Count++
}

func top(m map[string]*UserCount) []UserCount {
	result := make([]UserCount, 0, len(m))
	for _, u := range m {
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].UserID < result[j].UserID
	})
	if len(result) > topLimit {
		result = result[:topLimit]
	}
	return result
}
