// Package stream handles the client-facing SSE wire format: per-event
// framing ("data: <json>\n\n"), the terminal [DONE] sentinel, and
// dialect-appropriate error envelopes for both the pre-stream HTTP
// error case and the mid-stream error-event case.
// Every function here is a thin, stateless writer — the pipeline owns
// the loop that decides what to write and when; this package only
// knows how to put one event on the wire.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/howard-nolan/llmrouter/internal/dialect"
	"github.com/howard-nolan/llmrouter/internal/provider"
)

// SetSSEHeaders marks the response as a Server-Sent Events stream.
// Must be called before the first Write — once the body starts
// flowing, headers are locked in.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

// writeEvent puts one "data: <payload>\n\n" line on the wire and
// flushes immediately so the client sees it without waiting for Go's
// HTTP server to fill its write buffer.
func writeEvent(w io.Writer, f http.Flusher, payload []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	f.Flush()
	return nil
}

// WriteRawFrame serializes a provider.Frame (native dialect, whether
// passthrough or already translated by the caller) and writes it as
// one SSE event.
func WriteRawFrame(w io.Writer, f http.Flusher, frame provider.Frame) error {
	payload, err := frame.JSON()
	if err != nil {
		return err
	}
	return writeEvent(w, f, payload)
}

// WriteDone writes the terminal "data: [DONE]" sentinel. Translators
// never emit this themselves — it is purely a transport concern the
// pipeline adds once the upstream stream ends cleanly.
func WriteDone(w io.Writer, f http.Flusher) {
	fmt.Fprint(w, "data: [DONE]\n\n")
	f.Flush()
}

// WriteMidStreamError writes a dialect-appropriate error event without
// terminating the SSE framing itself — used for any stream failure
// after the pipeline has written the SSE headers, which it does as soon
// as SendStreaming succeeds. That includes a failure before the first
// chunk; the HTTP status stays 200. Anthropic-framed clients get the typed
// {"type":"error",...} event; OpenAI-framed clients get the flat
// {"error":"<msg>"} shape their streaming protocol uses for in-band
// errors (distinct from the nested non-streaming envelope).
func WriteMidStreamError(w io.Writer, f http.Flusher, clientDialect dialect.Dialect, message string) {
	var envelope any
	if clientDialect == dialect.AnthropicCompatible {
		envelope = dialect.WrapAnthropicError(message)
	} else {
		envelope = map[string]string{"error": message}
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	_ = writeEvent(w, f, payload)
}

// WriteHTTPError sends a plain (non-streaming) HTTP error response in
// the client's dialect — used when a stream request fails before the
// SSE headers are written: a bad client request, no route, or the
// streaming upstream call itself failing.
func WriteHTTPError(w http.ResponseWriter, status int, clientDialect dialect.Dialect, message string) {
	if status == 0 {
		// UpstreamCanceled: the client already disconnected, nothing to
		// write back.
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dialect.ErrorEnvelopeFor(clientDialect, message))
}
