// Package provider defines the uniform Provider interface over
// upstream LLM endpoints (component F) and its two concrete variants:
// an OpenAI-compatible adapter and an Anthropic-compatible adapter.
// Everything above this package — router, pipeline, telemetry — works
// against the interface and never branches on which concrete variant
// it holds.
package provider

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/howard-nolan/llmrouter/internal/dialect"
)

// Provider is the capability set every LLM backend adapter satisfies.
type Provider interface {
	// Name returns the adapter's identifier, e.g. "openai" or
	// "anthropic". Logging, metrics labels and telemetry use the
	// configured provider name from router.Decision instead.
	Name() string

	// DialectTag reports the wire dialect this provider natively speaks.
	DialectTag() dialect.Dialect

	// SendBuffered issues a non-streaming upstream call. body is the
	// already-serialized native-dialect request; the returned body is
	// the raw upstream response bytes (for RawCall), alongside the
	// upstream status and response headers.
	SendBuffered(ctx context.Context, body []byte) (status int, respBody []byte, respHeaders map[string]string, err error)

	// SendStreaming issues a streaming upstream call and returns a
	// channel of native-dialect frames, closed when the upstream
	// sentinel is reached or the context is canceled.
	SendStreaming(ctx context.Context, body []byte) (<-chan Frame, error)

	// ParseUsage extracts normalized usage from a raw native-dialect
	// response body, or ok=false if the body carries none.
	ParseUsage(respBody []byte) (usage dialect.Usage, ok bool)

	// EstimateCost maps (model, usage) to a USD estimate.
	EstimateCost(usage dialect.Usage, model string) float64

	// DefaultEndpointURL returns the upstream URL this provider calls
	// for the given endpoint kind.
	DefaultEndpointURL(kind dialect.EndpointKind) string
}

// Frame is one native-dialect streaming event. Exactly one of
// Anthropic/OpenAI is set, so the pipeline can hold a single channel
// element type across both provider variants without a type switch on
// every frame. A frame with Err set carries no event: it is the
// adapter reporting that the upstream stream broke mid-flight
// (UpstreamProtocolError), and is always the last frame sent.
type Frame struct {
	Anthropic *dialect.AnthropicStreamEvent
	OpenAI    *dialect.OpenAIStreamChunk
	Err       error
}

// ErrEmptyFrame is returned by Frame.JSON when neither variant is set.
var ErrEmptyFrame = errors.New("provider: frame carries no native event")

// JSON serializes whichever native event this frame carries — used to
// write a passthrough chunk to the client wire unchanged.
func (f Frame) JSON() ([]byte, error) {
	switch {
	case f.Anthropic != nil:
		return json.Marshal(*f.Anthropic)
	case f.OpenAI != nil:
		return json.Marshal(*f.OpenAI)
	default:
		return nil, ErrEmptyFrame
	}
}

// Text returns the generated-text fragment this frame carries, if any.
// Control frames (pings, openers, stop markers) report ok=false.
func (f Frame) Text() (string, bool) {
	switch {
	case f.Anthropic != nil:
		return dialect.ExtractAnthropicChunkText(*f.Anthropic)
	case f.OpenAI != nil:
		return dialect.ExtractOpenAIChunkText(*f.OpenAI)
	default:
		return "", false
	}
}

// Usage returns the usage snapshot this frame carries, if any. On
// Anthropic streams message_delta frames carry the upstream's partial
// usage and the message_stop frame carries the combined total stamped
// by AnthropicCompatible.SendStreaming; on OpenAI streams the final
// usage chunk carries it.
func (f Frame) Usage() (dialect.Usage, bool) {
	switch {
	case f.Anthropic != nil && f.Anthropic.Usage != nil:
		u := f.Anthropic.Usage
		out := dialect.Usage{
			PromptTokens:     u.InputTokens,
			CompletionTokens: u.OutputTokens,
			TotalTokens:      u.InputTokens + u.OutputTokens,
		}
		if u.CacheReadInputTokens > 0 {
			out.PromptTokensDetails = &dialect.UsagePromptDetails{CachedTokens: u.CacheReadInputTokens}
		}
		return out, true
	case f.OpenAI != nil && f.OpenAI.Usage != nil:
		return *f.OpenAI.Usage, true
	default:
		return dialect.Usage{}, false
	}
}

// Translate converts this frame into the target dialect under the
// given mode, or reports emit=false if this frame is a control frame
// with nothing to carry across dialects. For Passthrough (or any other
// mode) it returns the frame unchanged with emit=true; the pipeline
// itself writes passthrough frames without calling Translate, since
// the client expects the provider's native event vocabulary verbatim.
func (f Frame) Translate(mode dialect.Mode) (out Frame, emit bool) {
	switch mode {
	case dialect.AnthropicToOpenAI:
		// Request went Anthropic->OpenAI, so upstream frames are OpenAI
		// and flow back to the client as Anthropic events.
		if f.OpenAI == nil {
			return Frame{}, false
		}
		ev, ok := dialect.StreamChunkOpenAIToAnthropic(*f.OpenAI)
		if !ok {
			return Frame{}, false
		}
		return Frame{Anthropic: &ev}, true
	case dialect.OpenAIToAnthropic:
		if f.Anthropic == nil {
			return Frame{}, false
		}
		chunk, ok := dialect.StreamChunkAnthropicToOpenAI(*f.Anthropic)
		if !ok {
			return Frame{}, false
		}
		return Frame{OpenAI: &chunk}, true
	default:
		return f, true
	}
}
