// Package metrics exposes Prometheus collectors for the extraction
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LLMCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goextract_llm_calls_total",
			Help: "Total number of language model calls",
		},
		[]string{"status"},
	)

	LLMLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goextract_llm_call_duration_seconds",
			Help:    "Language model call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "goextract_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"stage", "method"},
	)

	Extractions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goextract_extractions_total",
			Help: "Total number of extraction requests",
		},
		[]string{"task", "mode", "status"},
	)

	CaseInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goextract_case_inserts_total",
			Help: "Case repository insert attempts by outcome",
		},
		[]string{"task", "outcome", "result"},
	)
)

// Recorder forwards pipeline events to the package collectors. It
// satisfies llm.Observer and casebase.Observer.
type Recorder struct{}

// ObserveCompletion records one language model call.
func (Recorder) ObserveCompletion(d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	LLMCalls.WithLabelValues(status).Inc()
	LLMLatency.Observe(d.Seconds())
}

// ObserveCaseInsert records one case insert attempt.
func (Recorder) ObserveCaseInsert(task, outcome string, inserted bool) {
	res := "duplicate"
	if inserted {
		res = "inserted"
	}
	CaseInserts.WithLabelValues(task, outcome, res).Inc()
}

// ObserveStage records how long a pipeline stage took.
func (Recorder) ObserveStage(stage, method string, d time.Duration) {
	StageDuration.WithLabelValues(stage, method).Observe(d.Seconds())
}

// ObserveExtraction counts a finished request.
func (Recorder) ObserveExtraction(task, mode string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	Extractions.WithLabelValues(task, mode, status).Inc()
}
