// Package metrics holds the Prometheus collectors for registry scans and restores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapkeep_reconcile_duration_seconds",
		Help:    "Time to reconcile the registry against the save directory",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	ReconcileChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapkeep_reconcile_changes_total",
		Help: "Capture files added, modified or removed by reconciliation",
	}, []string{"kind"})

	ReconcileFileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapkeep_reconcile_file_errors_total",
		Help: "Capture files reported with parse errors during reconciliation",
	})

	RegistryFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "snapkeep_registry_files",
		Help: "Capture files currently held by the registry",
	})

	RestoreRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapkeep_restore_rejections_total",
		Help: "Restore requests rejected before any write was issued",
	}, []string{"status"})

	RestoreOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapkeep_restore_outcomes_total",
		Help: "Completed restore batches by aggregated state",
	}, []string{"state", "forced"})

	RestoreItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "snapkeep_restore_items_total",
		Help: "Restored items by per-item status",
	}, []string{"status"})

	RestoreDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "snapkeep_restore_duration_seconds",
		Help:    "Time from dispatch of the first write to the aggregated outcome",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)
