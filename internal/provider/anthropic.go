package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/howard-nolan/llmrouter/internal/dialect"
)

// anthropicAPIVersion pins the Anthropic API behavior via a date-based
// header rather than a versioned URL path.
const anthropicAPIVersion = "2023-06-01"

// AnthropicCompatible implements Provider against Anthropic's native
// Messages API (/v1/messages). Usage arrives split across
// message_start (input tokens) and message_delta (output tokens); the
// streaming reader accumulates both and stamps the combined total onto
// the terminal message_stop frame so callers see usage in one place.
type AnthropicCompatible struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropicCompatible creates an AnthropicCompatible adapter.
func NewAnthropicCompatible(apiKey, baseURL string, client *http.Client) *AnthropicCompatible {
	return &AnthropicCompatible{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (a *AnthropicCompatible) Name() string { return "anthropic" }

func (a *AnthropicCompatible) DialectTag() dialect.Dialect { return dialect.AnthropicCompatible }

func (a *AnthropicCompatible) DefaultEndpointURL(kind dialect.EndpointKind) string {
	// Anthropic uses the same path for buffered and streaming calls —
	// "stream": true in the body switches modes.
	return fmt.Sprintf("%s/messages", a.baseURL)
}

func (a *AnthropicCompatible) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.DefaultEndpointURL(dialect.Buffered), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: building anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	return req, nil
}

// SendBuffered posts the already-translated Anthropic-dialect body and
// returns the raw upstream response, untouched, for RawCall capture.
func (a *AnthropicCompatible) SendBuffered(ctx context.Context, body []byte) (int, []byte, map[string]string, error) {
	httpReq, err := a.newRequest(ctx, body)
	if err != nil {
		return 0, nil, nil, err
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, nil, &UpstreamCanceled{}
		}
		return 0, nil, nil, &UpstreamNetworkError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := readAll(httpResp.Body)
	if err != nil {
		return 0, nil, nil, &UpstreamNetworkError{Cause: err}
	}

	headers := flattenHeader(httpResp.Header)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return httpResp.StatusCode, respBody, headers, &UpstreamHTTPError{Status: httpResp.StatusCode, Body: respBody}
	}

	return httpResp.StatusCode, respBody, headers, nil
}

// SendStreaming posts the body with stream:true forced and returns a
// channel of native Anthropic frames. The goroutine accumulates usage
// across message_start (input tokens) and message_delta (output
// tokens), enriching the terminal message_stop frame with the combined
// total before closing the channel — a provider-side convenience so
// the pipeline never has to watch for usage across multiple frames.
func (a *AnthropicCompatible) SendStreaming(ctx context.Context, body []byte) (<-chan Frame, error) {
	var reqObj map[string]json.RawMessage
	if err := json.Unmarshal(body, &reqObj); err != nil {
		return nil, fmt.Errorf("provider: decoding anthropic request for streaming: %w", err)
	}
	reqObj["stream"] = json.RawMessage("true")
	streamBody, err := json.Marshal(reqObj)
	if err != nil {
		return nil, fmt.Errorf("provider: re-marshaling streaming request: %w", err)
	}

	httpReq, err := a.newRequest(ctx, streamBody)
	if err != nil {
		return nil, err
	}

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &UpstreamCanceled{}
		}
		return nil, &UpstreamNetworkError{Cause: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		respBody, _ := readAll(httpResp.Body)
		return nil, &UpstreamHTTPError{Status: httpResp.StatusCode, Body: respBody}
	}

	ch := make(chan Frame)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()

		var inputTokens, outputTokens int

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")

			var event dialect.AnthropicStreamEvent
			if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
				sendOrCancel(ctx, ch, Frame{Err: &UpstreamProtocolError{Cause: fmt.Errorf("decoding stream event: %w", err)}})
				return
			}

			switch event.Type {
			case "message_start":
				if event.Message != nil {
					inputTokens = event.Message.Usage.InputTokens
				}
			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}
			case "message_stop":
				event.Usage = &dialect.AnthropicUsage{InputTokens: inputTokens, OutputTokens: outputTokens}
			}

			ev := event
			if !sendOrCancel(ctx, ch, Frame{Anthropic: &ev}) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			sendOrCancel(ctx, ch, Frame{Err: &UpstreamProtocolError{Cause: err}})
		}
	}()

	return ch, nil
}

// ParseUsage reads usage out of a raw /v1/messages response body.
func (a *AnthropicCompatible) ParseUsage(respBody []byte) (dialect.Usage, bool) {
	var resp dialect.AnthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return dialect.Usage{}, false
	}
	if resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0 {
		return dialect.Usage{}, false
	}
	u := dialect.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	if resp.Usage.CacheReadInputTokens > 0 {
		u.PromptTokensDetails = &dialect.UsagePromptDetails{CachedTokens: resp.Usage.CacheReadInputTokens}
	}
	return u, true
}

func (a *AnthropicCompatible) EstimateCost(usage dialect.Usage, model string) float64 {
	return costEstimate(usage, model)
}
