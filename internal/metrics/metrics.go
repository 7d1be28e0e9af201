// SPDX-License-Identifier: AGPL-3.0-only
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts Graph API feed pages by source kind and outcome.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbtracker_pages_fetched_total",
		Help: "Total number of feed pages requested",
	}, []string{"kind", "outcome"})

	// RestrictedSources counts sources skipped because they could not be read.
	RestrictedSources = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbtracker_restricted_sources_total",
		Help: "Total number of sources skipped as restricted",
	}, []string{"reason"})

	// LoadRuns counts bulk loads by final status.
	LoadRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbtracker_load_runs_total",
		Help: "Total number of bulk load runs by final status",
	}, []string{"status"})

	// LoadDuration records how long bulk loads take.
	LoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fbtracker_load_duration_seconds",
		Help:    "Bulk load duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// StoreOperations counts package store operations by result.
	StoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbtracker_store_operations_total",
		Help: "Total number of local package store operations",
	}, []string{"operation", "result"})

	// PhoneLookups counts phone searches by backing index and result.
	PhoneLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fbtracker_phone_lookups_total",
		Help: "Total number of phone lookups",
	}, []string{"index", "result"})
)

// ObserveLoad records the outcome of a finished bulk load.
func ObserveLoad(status string, start time.Time) {
	LoadRuns.WithLabelValues(status).Inc()
	LoadDuration.Observe(time.Since(start).Seconds())
}

// ObserveStore records a store operation. Pass the operation's error.
func ObserveStore(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreOperations.WithLabelValues(operation, result).Inc()
}
