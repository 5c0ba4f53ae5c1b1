package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microplan",
		Subsystem: "planning",
		Name:      "write_conflicts_total",
		Help:      "Constraint conflicts surfaced while committing planning writes.",
	}, []string{"kind"})

	bulkAssignUnits = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "microplan",
		Subsystem: "planning",
		Name:      "bulk_assign_units",
		Help:      "Org units touched per bulk assignment batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
	})

	pathsRecomputed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "microplan",
		Subsystem: "planning",
		Name:      "team_paths_recomputed_total",
		Help:      "Team rows whose materialized path was rewritten by a tree mutation.",
	})
)

func recordWriteConflict(kind string) {
	writeConflicts.WithLabelValues(kind).Inc()
}
