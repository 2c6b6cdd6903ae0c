package npdm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	elementsStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "npdm",
		Name:      "elements_stored_total",
		Help:      "Spin-orbital elements submitted to containers.",
	})

	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "npdm",
		Name:      "saves_total",
		Help:      "Sparse arrays persisted, by representation and format.",
	}, []string{"representation", "format"})

	saveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "npdm",
		Name:      "save_duration_seconds",
		Help:      "Duration of saving one sweep position.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	mergedFiles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "npdm",
		Name:      "merged_files_total",
		Help:      "Partial files read by merges.",
	})
)
