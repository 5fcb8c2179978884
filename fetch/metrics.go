package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const sourceLabel = "source"

var (
	chunksFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splatlod_fetch_chunks",
		Help: "The number of chunks fetched.",
	}, []string{
		sourceLabel,
	})

	bytesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splatlod_fetch_bytes",
		Help: "The number of bytes fetched.",
	}, []string{
		sourceLabel,
	})

	fetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splatlod_fetch_errors",
		Help: "The number of failed chunk fetches.",
	}, []string{
		sourceLabel,
	})

	chunksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splatlod_fetch_chunks_in_flight",
		Help: "The number of chunks being fetched or waiting to be consumed.",
	})
)

func instrumentChunk(source string, size int) {
	chunksFetched.With(prometheus.Labels{sourceLabel: source}).Inc()
	bytesFetched.With(prometheus.Labels{sourceLabel: source}).Add(float64(size))
}

func instrumentError(source string) {
	fetchErrors.With(prometheus.Labels{sourceLabel: source}).Inc()
}
