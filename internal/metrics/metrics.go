package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchdl_batches_created_total",
		Help: "Total number of batches accepted",
	})

	BatchesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchdl_batches_completed_total",
		Help: "Total number of batches whose downloads all succeeded",
	})

	BatchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchdl_batches_failed_total",
		Help: "Total number of batches that failed or were cancelled",
	})

	DownloadsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchdl_downloads_admitted_total",
		Help: "Total number of transfer tasks started",
	})

	DownloadsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchdl_downloads_completed_total",
		Help: "Total number of downloads moved to their destination",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchdl_downloads_failed_total",
		Help: "Total number of downloads that failed",
	})

	DownloadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batchdl_downloads_in_flight",
		Help: "Number of downloads with a live transfer task",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batchdl_download_duration_seconds",
		Help:    "Time from admission to completion in seconds",
		Buckets: prometheus.DefBuckets,
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batchdl_download_bytes_total",
		Help: "Total bytes written by transfers",
	})

	ErrorsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchdl_errors_recorded_total",
		Help: "Errors reported to diagnostics, by reason",
	}, []string{"reason"})
)
