package provider

import (
	"context"
	"io"
	"net/http"

	"github.com/howard-nolan/llmrouter/internal/cost"
	"github.com/howard-nolan/llmrouter/internal/dialect"
)

// costEstimate is the shared EstimateCost implementation both concrete
// providers delegate to — pricing is a cross-provider concern, not
// something each adapter should reimplement.
func costEstimate(usage dialect.Usage, model string) float64 {
	return cost.Estimate(usage, model)
}

// readAll drains a response body fully so it can be captured in a
// RawCall before the caller's defer closes it.
func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

// flattenHeader collapses net/http's multi-value header map into a
// single string per key (first value wins) for RawCall storage, which
// records one representative value per response header rather than the
// full multi-value shape.
func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// sendOrCancel sends a frame on ch, returning false if ctx was canceled
// first instead of the send completing.
func sendOrCancel(ctx context.Context, ch chan<- Frame, f Frame) bool {
	select {
	case ch <- f:
		return true
	case <-ctx.Done():
		return false
	}
}
