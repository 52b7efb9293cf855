package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Enqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassette_entities_enqueued_total",
		Help: "Total number of tracks and covers added to the queue",
	}, []string{"kind"})

	Started = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassette_transfers_started_total",
		Help: "Total number of transfers dispatched",
	}, []string{"kind"})

	Finished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassette_transfers_finished_total",
		Help: "Total number of transfers saved to disk",
	}, []string{"kind"})

	Interrupted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassette_transfers_interrupted_total",
		Help: "Total number of failed transfers",
	}, []string{"kind"})

	Active = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cassette_active_transfers",
		Help: "Number of occupied transfer slots",
	})

	Bytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cassette_downloaded_bytes_total",
		Help: "Total bytes saved",
	})

	TransferDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cassette_transfer_duration_seconds",
		Help:    "Track transfer duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassette_catalog_requests_total",
		Help: "Catalog API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})
)
