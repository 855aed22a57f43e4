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

// OpenAICompatible implements Provider against any OpenAI-compatible
// chat completions endpoint (OpenAI itself, and the many proxies and
// self-hosted runtimes that mirror its wire format). Structurally it
// follows the same four-step flow as AnthropicCompatible — build
// request, POST, decode/stream — but OpenAI's SSE is homogeneous (one
// "chat.completion.chunk" shape for every event, unlike Anthropic's
// named-event vocabulary), so there's no event-type switch here.
type OpenAICompatible struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAICompatible creates an OpenAICompatible adapter.
func NewOpenAICompatible(apiKey, baseURL string, client *http.Client) *OpenAICompatible {
	return &OpenAICompatible{apiKey: apiKey, baseURL: baseURL, client: client}
}

func (o *OpenAICompatible) Name() string { return "openai" }

func (o *OpenAICompatible) DialectTag() dialect.Dialect { return dialect.OpenAICompatible }

func (o *OpenAICompatible) DefaultEndpointURL(kind dialect.EndpointKind) string {
	return fmt.Sprintf("%s/chat/completions", o.baseURL)
}

func (o *OpenAICompatible) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.DefaultEndpointURL(dialect.Buffered), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: building openai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	return req, nil
}

// SendBuffered posts the already-translated OpenAI-dialect body and
// returns the raw upstream response for RawCall capture.
func (o *OpenAICompatible) SendBuffered(ctx context.Context, body []byte) (int, []byte, map[string]string, error) {
	httpReq, err := o.newRequest(ctx, body)
	if err != nil {
		return 0, nil, nil, err
	}

	httpResp, err := o.client.Do(httpReq)
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
// channel of native OpenAI chunks. OpenAI puts final usage on the last
// chunk itself (when stream_options.include_usage is requested), so —
// unlike the Anthropic adapter — there's no cross-event accumulation to
// do here; each frame is forwarded as it arrives.
func (o *OpenAICompatible) SendStreaming(ctx context.Context, body []byte) (<-chan Frame, error) {
	var reqObj map[string]json.RawMessage
	if err := json.Unmarshal(body, &reqObj); err != nil {
		return nil, fmt.Errorf("provider: decoding openai request for streaming: %w", err)
	}
	reqObj["stream"] = json.RawMessage("true")
	reqObj["stream_options"] = json.RawMessage(`{"include_usage":true}`)
	streamBody, err := json.Marshal(reqObj)
	if err != nil {
		return nil, fmt.Errorf("provider: re-marshaling streaming request: %w", err)
	}

	httpReq, err := o.newRequest(ctx, streamBody)
	if err != nil {
		return nil, err
	}

	httpResp, err := o.client.Do(httpReq)
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

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			jsonData := strings.TrimPrefix(line, "data: ")
			if jsonData == "[DONE]" {
				return
			}

			var chunk dialect.OpenAIStreamChunk
			if err := json.Unmarshal([]byte(jsonData), &chunk); err != nil {
				sendOrCancel(ctx, ch, Frame{Err: &UpstreamProtocolError{Cause: fmt.Errorf("decoding stream chunk: %w", err)}})
				return
			}

			if !sendOrCancel(ctx, ch, Frame{OpenAI: &chunk}) {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			sendOrCancel(ctx, ch, Frame{Err: &UpstreamProtocolError{Cause: err}})
		}
	}()

	return ch, nil
}

// ParseUsage reads usage out of a raw chat/completions response body.
func (o *OpenAICompatible) ParseUsage(respBody []byte) (dialect.Usage, bool) {
	var resp dialect.OpenAIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return dialect.Usage{}, false
	}
	if resp.Usage.PromptTokens == 0 && resp.Usage.CompletionTokens == 0 {
		return dialect.Usage{}, false
	}
	return resp.Usage, true
}

func (o *OpenAICompatible) EstimateCost(usage dialect.Usage, model string) float64 {
	return costEstimate(usage, model)
}
