package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExistence(t *testing.T) {
	// Verify our exported metrics functions exist and don't panic
	RecordInference("http", 100*time.Millisecond)
	RecordSequenceLength(12)
	RecordStaleResponse()
	RecordSkippedLayers(0)
	RecordSkippedLayers(2)
}

func TestRecordAnalysis(t *testing.T) {
	before := TotalAnalyses()
	okBefore := testutil.ToFloat64(AnalysesTotal.WithLabelValues("ready"))

	RecordAnalysis("ready")
	RecordAnalysis("ready")
	RecordAnalysis("failed")

	if got := TotalAnalyses() - before; got != 3 {
		t.Errorf("expected 3 analyses recorded, got %d", got)
	}
	if got := testutil.ToFloat64(AnalysesTotal.WithLabelValues("ready")) - okBefore; got != 2 {
		t.Errorf("expected ready counter +2, got %v", got)
	}
}

func TestRecordAlignmentIgnoresAligned(t *testing.T) {
	before := testutil.ToFloat64(AlignmentMismatches)

	RecordAlignment(4, 4)
	if got := testutil.ToFloat64(AlignmentMismatches); got != before {
		t.Errorf("aligned input should not count, got %v want %v", got, before)
	}

	RecordAlignment(5, 4)
	RecordAlignment(3, 4)
	if got := testutil.ToFloat64(AlignmentMismatches) - before; got != 2 {
		t.Errorf("expected 2 mismatches, got %v", got)
	}
}

func TestRecordDegenerateRange(t *testing.T) {
	before := testutil.ToFloat64(DegenerateRanges.WithLabelValues("attention"))
	RecordDegenerateRange("attention")
	if got := testutil.ToFloat64(DegenerateRanges.WithLabelValues("attention")) - before; got != 1 {
		t.Errorf("expected +1, got %v", got)
	}
}

func TestRecordIndexAndValidationErrors(t *testing.T) {
	RecordIndexError("layer")
	RecordIndexError("head")
	RecordValidationError("prompt")
	RecordValidationError("model_name")

	if got := testutil.ToFloat64(IndexErrors.WithLabelValues("layer")); got < 1 {
		t.Errorf("expected layer index error to be counted, got %v", got)
	}
}

func TestCacheCounters(t *testing.T) {
	hits := testutil.ToFloat64(CacheHits)
	misses := testutil.ToFloat64(CacheMisses)

	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheMiss()
	RecordCacheEviction()

	if got := testutil.ToFloat64(CacheHits) - hits; got != 1 {
		t.Errorf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(CacheMisses) - misses; got != 2 {
		t.Errorf("expected 2 misses, got %v", got)
	}
}
