package telemetry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := Open(path, 64, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleLog(requestID string) CallLog {
	ttft := int64(120)
	tpot := 15.5
	tps := 64.0
	actualRate := 0.25
	return CallLog{
		RequestID: requestID,
		Timestamp: time.Now(),
		Provider:  "openai",
		Model:     "gpt-4o",
		Endpoint:  "chat/completions",
		Success:   true,
		Raw: RawCall{
			RequestMethod: "POST",
			RequestURL:    "/v1/chat/completions",
		},
		Estimated: EstimatedAnalysis{
			TTFTMillis:            &ttft,
			TPOTMillis:            &tpot,
			TotalLatencyMillis:    340,
			TokensPerSecond:       &tps,
			EstimatedCachedTokens: 2,
			EstimatedFreshTokens:  8,
			EstimatedCacheHitRate: 0.2,
			EstimatedCostUSD:      0.0001,
			AnalysisTimestamp:     time.Now(),
		},
		ActualPromptTokens:     8,
		ActualCompletionTokens: 4,
		ActualTotalTokens:      12,
		ActualCachedTokens:     2,
		ActualCacheHitRate:     &actualRate,
	}
}

func TestStore_EnqueueAndClose_Persists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telemetry.db")

	s, err := Open(path, 64, nil)
	require.NoError(t, err)
	s.Enqueue(sampleLog("req-1"))
	// Close drains the queue synchronously before returning, so the row
	// is guaranteed visible once Close completes.
	require.NoError(t, s.Close())

	s2, err := Open(path, 64, nil)
	require.NoError(t, err)
	defer s2.Close()

	stats, err := s2.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCalls)
}

func TestStore_GetDatabaseStats_EmptyStoreCountsZero(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalCalls)
}

func TestStore_PerformanceStats_NoRowsNoError(t *testing.T) {
	s := newTestStore(t)
	rows, err := s.PerformanceStats("", "", 30)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_CacheAnalysisComparison_NoRowsNoError(t *testing.T) {
	s := newTestStore(t)
	rows, err := s.CacheAnalysisComparison(30)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_Flush_MakesEnqueuedRowsReadable(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(sampleLog("req-a"))
	s.Enqueue(sampleLog("req-b"))
	s.Flush()

	stats, err := s.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalCalls)
	require.NotNil(t, stats.DateFrom)
	require.NotNil(t, stats.DateTo)
	assert.Equal(t, int64(1), stats.DistinctModels)
	assert.Equal(t, int64(1), stats.DistinctProviders)
}

func TestStore_CacheAnalysisComparison_ComputesDiffAndError(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(sampleLog("req-1"))

	// A row with no upstream-reported rate must stay out of the view.
	noActual := sampleLog("req-2")
	noActual.ActualCacheHitRate = nil
	s.Enqueue(noActual)
	s.Flush()

	rows, err := s.CacheAnalysisComparison(30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "req-1", rows[0].RequestID)
	assert.InDelta(t, 0.25-0.2, rows[0].HitRateDiff, 1e-9)
	assert.InDelta(t, 0.05, rows[0].PredictionError, 1e-9)
}

func TestStore_PerformanceStats_AggregatesSuccessfulRowsOnly(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(sampleLog("req-1"))
	s.Enqueue(sampleLog("req-2"))

	errMsg := "upstream http error (status 500)"
	failed := sampleLog("req-3")
	failed.Success = false
	failed.ErrorMessage = &errMsg
	s.Enqueue(failed)
	s.Flush()

	rows, err := s.PerformanceStats("gpt-4o", "openai", 7)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Count)
	assert.Equal(t, int64(24), rows[0].SumTotalTokens)
	require.NotNil(t, rows[0].AvgTTFTMillis)
	assert.InDelta(t, 120, *rows[0].AvgTTFTMillis, 1e-9)
}

func TestStore_GetCacheAnalysisSummary(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(sampleLog("req-1"))
	s.Flush()

	avgErr, samples, err := s.GetCacheAnalysisSummary(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), samples)
	assert.InDelta(t, 0.05, avgErr, 1e-9)
}

func TestStore_Export_WritesFilteredRows(t *testing.T) {
	s := newTestStore(t)
	s.Enqueue(sampleLog("req-1"))

	other := sampleLog("req-2")
	other.Model = "claude-3-5-sonnet"
	other.Provider = "anthropic"
	s.Enqueue(other)
	s.Flush()

	dest := filepath.Join(t.TempDir(), "export.parquet")
	n, err := s.Export(dest, ExportFilters{Model: "gpt-4o", SuccessOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestStore_Enqueue_DropsOnFullQueueWithoutBlocking(t *testing.T) {
	// A zero-capacity queue rejects everything the writer hasn't picked
	// up yet; the call must still return immediately.
	path := filepath.Join(t.TempDir(), "telemetry.db")
	s, err := Open(path, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Enqueue(sampleLog("req-burst"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}
