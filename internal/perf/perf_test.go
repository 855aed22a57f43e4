package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonStreaming_TTFTEqualsTotalLatency(t *testing.T) {
	tr := NewTracker()
	time.Sleep(2 * time.Millisecond)
	m := tr.NonStreaming()

	require.NotNil(t, m.TTFTMillis)
	assert.Equal(t, m.TotalLatencyMillis, *m.TTFTMillis)
	assert.Nil(t, m.TPOTMillis)
}

func TestStreaming_NoChunksObserved(t *testing.T) {
	tr := NewTracker()
	m := tr.Streaming(0)

	assert.Nil(t, m.TTFTMillis)
	assert.Nil(t, m.TPOTMillis)
	assert.GreaterOrEqual(t, m.TotalLatencyMillis, int64(0))
}

func TestStreaming_SingleChunk_TPOTNull(t *testing.T) {
	tr := NewTracker()
	tr.RecordToken()
	m := tr.Streaming(1)

	require.NotNil(t, m.TTFTMillis)
	assert.Nil(t, m.TPOTMillis)
	assert.Nil(t, m.TokensPerSecond)
}

func TestStreaming_MultipleChunks_TPOTPositive(t *testing.T) {
	tr := NewTracker()
	tr.RecordToken()
	time.Sleep(2 * time.Millisecond)
	tr.RecordToken()
	time.Sleep(2 * time.Millisecond)
	tr.RecordToken()

	m := tr.Streaming(3)

	require.NotNil(t, m.TTFTMillis)
	require.NotNil(t, m.TPOTMillis)
	assert.Greater(t, *m.TPOTMillis, 0.0)
	assert.LessOrEqual(t, *m.TTFTMillis, m.TotalLatencyMillis)
	require.NotNil(t, m.TokensPerSecond)
	assert.Greater(t, *m.TokensPerSecond, 0.0)
}

func TestStreaming_TTFTNeverExceedsTotalLatency(t *testing.T) {
	tr := NewTracker()
	tr.RecordToken()
	tr.RecordToken()
	m := tr.Streaming(2)
	require.NotNil(t, m.TTFTMillis)
	assert.LessOrEqual(t, *m.TTFTMillis, m.TotalLatencyMillis)
}
