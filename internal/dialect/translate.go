package dialect

import "strings"

// DefaultMaxTokens is used whenever an OpenAI request lacking
// max_tokens is translated into Anthropic's dialect, which requires
// the field.
const DefaultMaxTokens = 1024

// anthropicDefaultMaxTokens is the fallback applied in the opposite
// direction.
const anthropicDefaultMaxTokens = 1000

// anthropicDefaultTemperature is applied when translating an Anthropic
// request (which has no required default) into OpenAI's dialect.
const anthropicDefaultTemperature = 1.0

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// RequestOpenAIToAnthropic moves any system-role messages into the
// top-level system string (concatenated if there are several) and
// copies the rest verbatim. max_tokens/temperature/top_p are copied
// through; max_tokens gets DefaultMaxTokens if the client didn't set
// one, since Anthropic rejects requests without it.
func RequestOpenAIToAnthropic(req OpenAIRequest) AnthropicRequest {
	out := AnthropicRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}

	var systemParts []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			if m.Content.Text != "" {
				systemParts = append(systemParts, m.Content.Text)
			}
			continue
		}
		out.Messages = append(out.Messages, AnthropicMessage{
			Role:    m.Role,
			Content: collapseContent(m.Content),
		})
	}
	if len(systemParts) > 0 {
		out.System = strings.Join(systemParts, "\n")
	}

	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	} else {
		out.MaxTokens = DefaultMaxTokens
	}

	return out
}

// RequestAnthropicToOpenAI turns a top-level system string into a
// leading {role:"system"} message and copies the rest. max_tokens and
// temperature get fixed defaults when absent.
func RequestAnthropicToOpenAI(req AnthropicRequest) OpenAIRequest {
	out := OpenAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, OpenAIMessage{
			Role:    "system",
			Content: PlainText(req.System),
		})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, OpenAIMessage{
			Role:    m.Role,
			Content: collapseContent(m.Content),
		})
	}

	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	} else {
		out.MaxTokens = anthropicDefaultMaxTokens
	}

	if out.Temperature == nil {
		t := anthropicDefaultTemperature
		out.Temperature = &t
	}

	return out
}

// collapseContent preserves list-of-parts content verbatim — both
// dialects' message shapes accept content arrays — but since our own
// Content type already carries the joined text alongside the original
// parts, this is mostly a pass-through. Kept as its own function so a
// future provider that can't accept list content has one place to
// force collapse-to-text.
func collapseContent(c Content) Content {
	return c
}

// ---------------------------------------------------------------------------
// Non-streaming response translation
// ---------------------------------------------------------------------------

// anthropicStopReasonToOpenAI maps Anthropic's stop_reason vocabulary
// onto OpenAI's finish_reason vocabulary. Anything not explicitly
// mapped passes through unchanged.
func anthropicStopReasonToOpenAI(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// ResponseAnthropicToOpenAI builds an OpenAI chat.completion object
// from an Anthropic messages response: join all text content blocks,
// map stop_reason, and sum usage into the OpenAI usage shape.
func ResponseAnthropicToOpenAI(resp AnthropicResponse) OpenAIResponse {
	var texts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			texts = append(texts, block.Text)
		}
	}

	return OpenAIResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []OpenAIChoice{
			{
				Index: 0,
				Message: OpenAIMessage{
					Role:    "assistant",
					Content: PlainText(strings.Join(texts, "")),
				},
				FinishReason: anthropicStopReasonToOpenAI(resp.StopReason),
			},
		},
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// ResponseOpenAIToAnthropic builds an Anthropic message object from an
// OpenAI chat.completion response. Only the first choice is used —
// Anthropic has no concept of multiple choices.
func ResponseOpenAIToAnthropic(resp OpenAIResponse) AnthropicResponse {
	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content.Text
	}

	out := AnthropicResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: resp.Model,
		Content: []AnthropicContentBlock{
			{Type: "text", Text: text},
		},
		StopReason: "end_turn",
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	return out
}

// ---------------------------------------------------------------------------
// Streaming chunk translation — pure and stateless, one chunk at a time
// ---------------------------------------------------------------------------

// StreamChunkAnthropicToOpenAI translates one Anthropic SSE event into
// an OpenAI-shape chunk. emit is false for control frames that carry
// no text (message_start, content_block_start/stop, ping, message_stop)
// — those must not inject an empty-content chunk on the client wire.
func StreamChunkAnthropicToOpenAI(ev AnthropicStreamEvent) (chunk OpenAIStreamChunk, emit bool) {
	if ev.Type != "content_block_delta" || ev.Delta == nil || ev.Delta.Type != "text_delta" {
		return OpenAIStreamChunk{}, false
	}

	return OpenAIStreamChunk{
		Object: "chat.completion.chunk",
		Choices: []OpenAIStreamChoice{
			{
				Index: 0,
				Delta: OpenAIStreamDelta{Content: ev.Delta.Text},
			},
		},
	}, true
}

// StreamChunkOpenAIToAnthropic translates one OpenAI SSE chunk into an
// Anthropic content_block_delta event. emit is false when the chunk
// carries no delta content (role-only openers, empty finish chunks).
func StreamChunkOpenAIToAnthropic(chunk OpenAIStreamChunk) (ev AnthropicStreamEvent, emit bool) {
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return AnthropicStreamEvent{}, false
	}

	return AnthropicStreamEvent{
		Type:  "content_block_delta",
		Index: 0,
		Delta: &AnthropicEventDelta{
			Type: "text_delta",
			Text: chunk.Choices[0].Delta.Content,
		},
	}, true
}

// ExtractAnthropicChunkText returns the text delta (if any) carried by
// a raw Anthropic stream event, for pipeline-side aggregation. This is
// distinct from translation: passthrough mode still needs to know
// "was there text in this frame" without rewriting dialect.
func ExtractAnthropicChunkText(ev AnthropicStreamEvent) (text string, ok bool) {
	if ev.Type == "content_block_delta" && ev.Delta != nil && ev.Delta.Type == "text_delta" {
		return ev.Delta.Text, true
	}
	return "", false
}

// ExtractOpenAIChunkText returns the text delta (if any) carried by a
// raw OpenAI stream chunk.
func ExtractOpenAIChunkText(chunk OpenAIStreamChunk) (text string, ok bool) {
	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
		return chunk.Choices[0].Delta.Content, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Error envelope translation
// ---------------------------------------------------------------------------

// WrapAnthropicError builds Anthropic's {"type":"error","error":{...}}
// envelope around a plain error message.
func WrapAnthropicError(message string) AnthropicError {
	return AnthropicError{
		Type: "error",
		Error: AnthropicErrorBody{
			Type:    "api_error",
			Message: message,
		},
	}
}

// WrapOpenAIError builds OpenAI's {"error":{"message":...}} envelope
// around a plain error message.
func WrapOpenAIError(message string) OpenAIError {
	return OpenAIError{Error: OpenAIErrorBody{Message: message}}
}

// ErrorEnvelopeFor wraps a plain error message in the error shape the
// given client dialect expects, so a client only ever sees its own
// error vocabulary regardless of which provider actually failed or
// what shape its error body used.
func ErrorEnvelopeFor(clientDialect Dialect, message string) any {
	if clientDialect == AnthropicCompatible {
		return WrapAnthropicError(message)
	}
	return WrapOpenAIError(message)
}
