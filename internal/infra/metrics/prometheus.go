package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_detection_jobs_total",
		Help: "Total number of ingestion jobs finished, by terminal status",
	}, []string{"status"})

	JobProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiapx_detection_job_duration_seconds",
		Help:    "Duration of ingestion job stages",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"stage"})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_detection_frames_sampled_total",
		Help: "Total number of sampling tasks scheduled across all jobs",
	})

	FrameFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_detection_frame_failures_total",
		Help: "Frames recorded with empty detections because a stage failed",
	}, []string{"stage"})

	RecordsIngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_detection_records_ingested_total",
		Help: "Detection records appended to a result store, by ingestion mode",
	}, []string{"mode"})

	MalformedRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fiapx_detection_malformed_records_total",
		Help: "Streamed detection lines dropped because they could not be parsed",
	})

	DetectRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fiapx_detection_request_duration_seconds",
		Help:    "Round trip of detector requests up to response headers or decoded body",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "outcome"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fiapx_detection_active_jobs",
		Help: "Number of ingestion jobs currently running",
	})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fiapx_detection_retry_total",
		Help: "Total number of retries",
	}, []string{"attempt"})
)
