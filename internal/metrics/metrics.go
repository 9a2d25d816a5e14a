package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordingsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mindscribe_recordings_accepted_total",
		Help: "Recordings stored and queued for transcription",
	})

	RecordingBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mindscribe_recording_bytes",
		Help:    "Size of accepted recordings",
		Buckets: prometheus.ExponentialBuckets(1<<20, 2, 10),
	})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mindscribe_pipeline_jobs_in_flight",
		Help: "Pipeline jobs currently being processed",
	})

	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mindscribe_pipeline_runs_total",
		Help: "Finished transcription runs by outcome",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mindscribe_pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900, 1800},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mindscribe_pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	TranscriptSegments = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mindscribe_transcript_segments",
		Help:    "Segments persisted per completed transcription",
		Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
	})

	NoteGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mindscribe_note_generations_total",
		Help: "Note drafts by trigger and outcome",
	}, []string{"trigger", "outcome"})
)
