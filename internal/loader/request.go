// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"errors"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
)

var (
	ErrNoSources        = errors.New("at least one group or page is required")
	ErrInvalidMaxItems  = errors.New("max items must be greater than zero")
	ErrInvalidBatchSize = errors.New("batch size must be greater than zero")
	ErrInvalidTimeRange = errors.New("invalid time range")
	ErrInvalidSort      = errors.New("invalid sort order")
	ErrAlreadyLoading   = errors.New("a load is already in progress")
)

type TimeRange string

const (
	RangeAll    TimeRange = "all"
	RangeToday  TimeRange = "today"
	RangeWeek   TimeRange = "week"
	RangeMonth  TimeRange = "month"
	RangeCustom TimeRange = "custom"
)

type SortOrder string

const (
	SortNewest       SortOrder = "newest"
	SortOldest       SortOrder = "oldest"
	SortMostComments SortOrder = "most_comments"
)

// Request describes one bulk load. Empty TimeRange and SortBy default to
// "all" and "newest".
type Request struct {
	Sources         []domain.Source `json:"sources"`
	TimeRange       TimeRange       `json:"timeRange"`
	CustomStart     time.Time       `json:"customStart,omitempty"`
	CustomEnd       time.Time       `json:"customEnd,omitempty"`
	MaxItems        int             `json:"maxItems"`
	BatchSize       int             `json:"batchSize"`
	IncludeComments bool            `json:"includeComments"`
	SortBy          SortOrder       `json:"sortBy"`
	Keyword         string          `json:"keyword,omitempty"`
}

func (r *Request) normalize() {
	if r.TimeRange == "" {
		r.TimeRange = RangeAll
	}
	if r.SortBy == "" {
		r.SortBy = SortNewest
	}
}

// Validate rejects requests that cannot be run. It never touches the network.
func (r Request) Validate() error {
	r.normalize()

	if len(r.Sources) == 0 {
		return ErrNoSources
	}
	for _, s := range r.Sources {
		if s.ID == "" || !s.Kind.Valid() {
			return ErrNoSources
		}
	}
	if r.MaxItems <= 0 {
		return ErrInvalidMaxItems
	}
	if r.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	switch r.TimeRange {
	case RangeAll, RangeToday, RangeWeek, RangeMonth:
	case RangeCustom:
		if r.CustomStart.IsZero() && r.CustomEnd.IsZero() {
			return ErrInvalidTimeRange
		}
		if !r.CustomStart.IsZero() && !r.CustomEnd.IsZero() && r.CustomEnd.Before(r.CustomStart) {
			return ErrInvalidTimeRange
		}
	default:
		return ErrInvalidTimeRange
	}

	switch r.SortBy {
	case SortNewest, SortOldest, SortMostComments:
	default:
		return ErrInvalidSort
	}

	return nil
}

// TotalBatches is the estimated number of pages a run will fetch.
func (r Request) TotalBatches() int {
	if r.BatchSize <= 0 {
		return 0
	}
	return (r.MaxItems + r.BatchSize - 1) / r.BatchSize
}
