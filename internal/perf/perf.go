// Package perf implements the Performance Tracker (component D):
// wall-clock timestamps for request start, first token, and every
// subsequent chunk, and the TTFT/TPOT/throughput math derived from
// them. A Tracker is single-use and single-threaded — it belongs to
// exactly one in-flight request.
package perf

import "time"

// Tracker accumulates monotonic timestamps across the lifetime of one
// request.
type Tracker struct {
	requestStart    time.Time
	firstTokenTime  time.Time
	haveFirstToken  bool
	tokenTimestamps []time.Time
}

// NewTracker creates a Tracker and immediately starts the request
// clock.
func NewTracker() *Tracker {
	return &Tracker{requestStart: time.Now()}
}

// RecordToken appends the current time to the token timestamp
// sequence and records the first-token time on the first call.
func (t *Tracker) RecordToken() {
	now := time.Now()
	if !t.haveFirstToken {
		t.firstTokenTime = now
		t.haveFirstToken = true
	}
	t.tokenTimestamps = append(t.tokenTimestamps, now)
}

// Metrics is the perf sub-record of EstimatedAnalysis. Nullable fields
// are pointers so the telemetry columns can hold real NULLs rather
// than ambiguous zeroes.
type Metrics struct {
	TTFTMillis           *int64
	TPOTMillis           *float64
	TotalLatencyMillis   int64
	TokensPerSecond      *float64
	NetworkLatencyMillis *int64
}

// Streaming computes perf metrics for a streaming call, given the
// number of output chunks actually observed. It is the caller's job to
// have invoked RecordToken once per observed chunk beforehand.
func (t *Tracker) Streaming(observedChunks int) Metrics {
	now := time.Now()
	last := now
	if len(t.tokenTimestamps) > 0 {
		last = t.tokenTimestamps[len(t.tokenTimestamps)-1]
	}

	m := Metrics{
		TotalLatencyMillis: last.Sub(t.requestStart).Milliseconds(),
	}
	if last.Before(t.requestStart) {
		m.TotalLatencyMillis = now.Sub(t.requestStart).Milliseconds()
	}

	if !t.haveFirstToken {
		return m
	}

	ttft := t.firstTokenTime.Sub(t.requestStart).Milliseconds()
	m.TTFTMillis = &ttft

	if observedChunks > 1 {
		// Both quantities divide by N (observed chunks), not N-1
		// intervals, even though the first token's own arrival anchors
		// the window.
		elapsed := last.Sub(t.firstTokenTime)
		tpot := float64(elapsed.Microseconds()) / 1000.0 / float64(observedChunks)
		m.TPOTMillis = &tpot

		if elapsed > 0 {
			tps := float64(observedChunks) / elapsed.Seconds()
			m.TokensPerSecond = &tps
		}
	}

	return m
}

// NonStreaming computes perf metrics for a buffered call: a single
// arrival, so ttft equals total latency and tpot is null.
func (t *Tracker) NonStreaming() Metrics {
	total := time.Since(t.requestStart).Milliseconds()
	ttft := total
	return Metrics{
		TotalLatencyMillis: total,
		TTFTMillis:         &ttft,
	}
}
