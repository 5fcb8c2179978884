package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	collectionLabel = "collection"
	resultLabel     = "result"

	resultSuccess  = "success"
	resultFailure  = "failure"
	resultCanceled = "canceled"
)

var (
	builds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splatlod_worker_builds",
		Help: "The number of tree builds by outcome.",
	}, []string{
		collectionLabel,
		resultLabel,
	})

	buildSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splatlod_worker_build_seconds",
		Help:    "The time spent building trees.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{
		collectionLabel,
	})

	traversals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splatlod_worker_traversals",
		Help: "The number of completed traversals.",
	})

	traversalsSuperseded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splatlod_worker_traversals_superseded",
		Help: "The number of traversal requests dropped or cancelled by a newer request.",
	})

	traversalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splatlod_worker_traversal_errors",
		Help: "The number of traversal requests that failed.",
	})

	traversalSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "splatlod_worker_traversal_seconds",
		Help:    "The time spent selecting frontiers.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	frontierSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "splatlod_worker_frontier_size",
		Help:    "The number of nodes selected per traversal.",
		Buckets: prometheus.ExponentialBuckets(16, 4, 10),
	})
)

func instrumentBuild(collection, result string, elapsed time.Duration) {
	builds.With(prometheus.Labels{
		collectionLabel: collection,
		resultLabel:     result,
	}).Inc()
	if result == resultSuccess {
		buildSeconds.With(prometheus.Labels{collectionLabel: collection}).Observe(elapsed.Seconds())
	}
}

func instrumentTraversal(size int, elapsed time.Duration) {
	traversals.Inc()
	frontierSize.Observe(float64(size))
	traversalSeconds.Observe(elapsed.Seconds())
}
