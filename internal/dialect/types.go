// Package dialect implements the bidirectional OpenAI <-> Anthropic
// translation tables: requests, non-streaming responses, streaming
// chunks, and error envelopes. Every function here is a pure,
// stateless mapping from one wire shape to another — no I/O, no
// provider knowledge, no cross-call state. That statelessness is what
// makes the streaming translator trivial to test against chunk
// corpora (see translate_test.go).
package dialect

import "encoding/json"

// Dialect identifies a JSON wire shape. The same constants describe
// both a client endpoint's dialect and a provider's native dialect —
// translation is needed exactly when the two differ.
type Dialect string

const (
	OpenAICompatible    Dialect = "openai_compatible"
	AnthropicCompatible Dialect = "anthropic_compatible"
)

// Mode is the translation direction a request/response pair travels.
// Passthrough means client dialect == provider dialect; no rewriting.
type Mode string

const (
	Passthrough       Mode = "passthrough"
	OpenAIToAnthropic Mode = "openai_to_anthropic"
	AnthropicToOpenAI Mode = "anthropic_to_openai"
)

// EndpointKind distinguishes the buffered and streaming upstream URLs a
// provider may expose under different paths (Anthropic uses the same
// path for both; some providers do not).
type EndpointKind string

const (
	Buffered  EndpointKind = "buffered"
	Streaming EndpointKind = "streaming"
)

// Usage is the normalized token count shape every dialect's usage
// object collapses into. OpenAI names these prompt/completion tokens;
// Anthropic names them input/output tokens — this is the common shape
// downstream components (cost, telemetry) consume.
type Usage struct {
	PromptTokens        int                 `json:"prompt_tokens"`
	CompletionTokens    int                 `json:"completion_tokens"`
	TotalTokens         int                 `json:"total_tokens"`
	PromptTokensDetails *UsagePromptDetails `json:"prompt_tokens_details,omitempty"`
}

// UsagePromptDetails carries upstream-reported prompt-cache reuse:
// OpenAI's prompt_tokens_details.cached_tokens shape, which Anthropic's
// cache_read_input_tokens is normalized into as well.
type UsagePromptDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

// CachedTokens reports how many prompt tokens the upstream said it
// served from its own cache, and whether it reported anything at all.
func (u Usage) CachedTokens() (int, bool) {
	if u.PromptTokensDetails == nil {
		return 0, false
	}
	return u.PromptTokensDetails.CachedTokens, true
}

// ContentPart is one block of a multimodal message: a text fragment or
// an image reference. Only Type=="text" parts contribute to token
// estimation and to joined-text translation.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// ImageURL/Source are opaque — the translator never inspects them,
	// it only needs to know a part was an image for counting purposes.
	ImageURL json.RawMessage `json:"image_url,omitempty"`
	Source   json.RawMessage `json:"source,omitempty"`
}

func (p ContentPart) isImage() bool {
	return p.Type == "image" || p.Type == "image_url"
}

// Content represents a message body that may be a plain string or a
// list of content parts (OpenAI and Anthropic both allow the latter
// for multimodal messages). Text is always the joined-text view;
// Parts is nil when the original was a plain string so re-marshaling
// round-trips the original shape.
type Content struct {
	Text       string
	Parts      []ContentPart
	ImageCount int
}

// PlainText builds a Content from a plain string, matching what the
// OpenAI/Anthropic JSON shape looks like for simple text messages.
func PlainText(s string) Content {
	return Content{Text: s}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	// Try plain string first — the overwhelmingly common case.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content{Text: s}
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}

	var texts []string
	images := 0
	for _, p := range parts {
		if p.isImage() {
			images++
			continue
		}
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}

	joined := ""
	for i, t := range texts {
		if i > 0 {
			joined += " "
		}
		joined += t
	}

	*c = Content{Text: joined, Parts: parts, ImageCount: images}
	return nil
}

// ---------------------------------------------------------------------------
// OpenAI-dialect wire types
// ---------------------------------------------------------------------------

type OpenAIMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   Usage          `json:"usage"`
}

type OpenAIStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type OpenAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        OpenAIStreamDelta `json:"delta"`
	FinishReason *string           `json:"finish_reason"`
}

type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Model   string               `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *Usage               `json:"usage,omitempty"`
}

// OpenAIErrorBody is OpenAI's error envelope shape: {"error":{"message":...}}.
type OpenAIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

type OpenAIError struct {
	Error OpenAIErrorBody `json:"error"`
}

// ---------------------------------------------------------------------------
// Anthropic-dialect wire types
// ---------------------------------------------------------------------------

type AnthropicMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AnthropicUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

type AnthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      AnthropicUsage          `json:"usage"`
}

// AnthropicStreamEvent is a union-style wrapper for every named SSE
// event Anthropic emits (message_start, content_block_delta,
// message_delta, message_stop, ping, ...). Only the fields relevant to
// the current Type are populated; the rest stay at zero value.
type AnthropicStreamEvent struct {
	Type    string                 `json:"type"`
	Index   int                    `json:"index,omitempty"`
	Message *AnthropicEventMessage `json:"message,omitempty"`
	Delta   *AnthropicEventDelta   `json:"delta,omitempty"`
	Usage   *AnthropicUsage        `json:"usage,omitempty"`
}

type AnthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage AnthropicUsage `json:"usage"`
}

type AnthropicEventDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// AnthropicErrorBody is Anthropic's nested error shape.
type AnthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type AnthropicError struct {
	Type  string             `json:"type"`
	Error AnthropicErrorBody `json:"error"`
}

// ---------------------------------------------------------------------------
// Request fingerprint — the (role, content) view consumed by the cache
// estimator. Never persisted.
// ---------------------------------------------------------------------------

// Turn is one (role, content) pair from a request's message list,
// dialect-neutral. A top-level Anthropic "system" string becomes a
// synthetic leading Turn with Role "system" so both dialects present
// the same shape to the cache estimator's system-message bucket.
type Turn struct {
	Role    string
	Content string
}

// Turns extracts the dialect-neutral fingerprint from an OpenAI-shape
// request. System messages are already inline, so this is a direct
// projection.
func (r OpenAIRequest) Turns() []Turn {
	turns := make([]Turn, 0, len(r.Messages))
	for _, m := range r.Messages {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content.Text})
	}
	return turns
}

// Turns extracts the dialect-neutral fingerprint from an Anthropic-shape
// request, synthesizing a leading system Turn from the top-level
// System string when present.
func (r AnthropicRequest) Turns() []Turn {
	turns := make([]Turn, 0, len(r.Messages)+1)
	if r.System != "" {
		turns = append(turns, Turn{Role: "system", Content: r.System})
	}
	for _, m := range r.Messages {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content.Text})
	}
	return turns
}
