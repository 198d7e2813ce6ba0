package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalAnalyses atomic.Int64

var (
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_analyses_total",
		Help: "Total number of analyses by outcome",
	}, []string{"outcome"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lens_inference_duration_seconds",
		Help:    "Duration of calls to the inference service",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"backend"})

	StaleResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_stale_responses_total",
		Help: "Inference responses discarded because a newer analysis was submitted",
	})

	SequenceLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_sequence_length_tokens",
		Help:    "Distribution of tensor sequence lengths received",
		Buckets: []float64{1, 4, 8, 16, 32, 64, 128, 256, 512},
	})

	// ===== Pipeline Diagnostics =====

	AlignmentMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_alignment_mismatch_total",
		Help: "Count of display tokenizations whose length differs from the tensor sequence length",
	})

	AlignmentDelta = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lens_alignment_delta_tokens",
		Help:    "Absolute difference between token count and tensor sequence length",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
	})

	DegenerateRanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_degenerate_range_total",
		Help: "Count of normalization domains where every value was equal",
	}, []string{"kind"})

	IndexErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_index_out_of_range_total",
		Help: "Count of rejected selections by axis",
	}, []string{"axis"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lens_validation_errors_total",
		Help: "Total number of rejected analysis requests",
	}, []string{"field"})

	SkippedLayers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_trajectory_skipped_layers_total",
		Help: "Layers left out of a trajectory because the token index was outside that layer",
	})

	// ===== Cache =====

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_cache_hits_total",
		Help: "Total number of analysis cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_cache_misses_total",
		Help: "Total number of analysis cache misses",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lens_cache_evictions_total",
		Help: "Total number of analysis cache evictions",
	})
)

func RecordAnalysis(outcome string) {
	AnalysesTotal.WithLabelValues(outcome).Inc()
	totalAnalyses.Add(1)
}

// TotalAnalyses returns how many analyses settled since process start.
func TotalAnalyses() int64 {
	return totalAnalyses.Load()
}

func RecordInference(backend string, duration time.Duration) {
	InferenceDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func RecordStaleResponse() {
	StaleResponses.Inc()
}

func RecordSequenceLength(tokens int) {
	SequenceLengthHistogram.Observe(float64(tokens))
}

// RecordAlignment records a display tokenization that did not line up with
// the tensor sequence length.
func RecordAlignment(tokenCount, seqLen int) {
	if tokenCount == seqLen {
		return
	}
	delta := tokenCount - seqLen
	if delta < 0 {
		delta = -delta
	}
	AlignmentMismatches.Inc()
	AlignmentDelta.Observe(float64(delta))
}

// RecordDegenerateRange counts a constant normalization domain. kind is
// "attention" or "trajectory".
func RecordDegenerateRange(kind string) {
	DegenerateRanges.WithLabelValues(kind).Inc()
}

func RecordIndexError(axis string) {
	IndexErrors.WithLabelValues(axis).Inc()
}

func RecordValidationError(field string) {
	ValidationErrors.WithLabelValues(field).Inc()
}

func RecordSkippedLayers(n int) {
	if n > 0 {
		SkippedLayers.Add(float64(n))
	}
}

func RecordCacheHit() {
	CacheHits.Inc()
}

func RecordCacheMiss() {
	CacheMisses.Inc()
}

func RecordCacheEviction() {
	CacheEvictions.Inc()
}
