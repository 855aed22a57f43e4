package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/howard-nolan/llmrouter/internal/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropic(url string) *AnthropicCompatible {
	return NewAnthropicCompatible("sk-test", url, http.DefaultClient)
}

func TestAnthropicCompatible_SendBuffered_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-haiku","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`)
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	status, body, headers, err := p.SendBuffered(context.Background(), []byte(`{"model":"claude-3-haiku","max_tokens":100,"messages":[]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, headers, "Content-Type")

	usage, ok := p.ParseUsage(body)
	require.True(t, ok)
	assert.Equal(t, 5, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
}

func TestAnthropicCompatible_SendBuffered_UpstreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	_, _, _, err := p.SendBuffered(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var httpErr *UpstreamHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.Status)
}

func TestAnthropicCompatible_SendStreaming_AccumulatesUsageOnStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-3-haiku\",\"usage\":{\"input_tokens\":7,\"output_tokens\":0}}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hel\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"usage\":{\"input_tokens\":0,\"output_tokens\":2}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	ch, err := p.SendStreaming(context.Background(), []byte(`{"model":"claude-3-haiku","max_tokens":100,"messages":[]}`))
	require.NoError(t, err)

	var texts []string
	var finalUsage dialect.Usage
	var sawStop bool
	for f := range ch {
		if text, ok := f.Text(); ok {
			texts = append(texts, text)
		}
		if f.Anthropic != nil && f.Anthropic.Type == "message_stop" {
			sawStop = true
			u, ok := f.Usage()
			require.True(t, ok)
			finalUsage = u
		}
	}

	assert.Equal(t, []string{"hel", "lo"}, texts)
	require.True(t, sawStop)
	assert.Equal(t, 7, finalUsage.PromptTokens)
	assert.Equal(t, 2, finalUsage.CompletionTokens)
}

func TestAnthropicCompatible_ParseUsage_NormalizesCacheReadTokens(t *testing.T) {
	p := newTestAnthropic("http://unused")
	usage, ok := p.ParseUsage([]byte(`{"type":"message","usage":{"input_tokens":100,"output_tokens":10,"cache_read_input_tokens":60}}`))
	require.True(t, ok)
	cached, reported := usage.CachedTokens()
	require.True(t, reported)
	assert.Equal(t, 60, cached)
	assert.Equal(t, 100, usage.PromptTokens)
}

func TestAnthropicCompatible_SendStreaming_MalformedEventYieldsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {broken\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := newTestAnthropic(srv.URL)
	ch, err := p.SendStreaming(context.Background(), []byte(`{"model":"claude-3-haiku","max_tokens":10,"messages":[]}`))
	require.NoError(t, err)

	var last Frame
	for f := range ch {
		last = f
	}
	require.Error(t, last.Err)
	var protoErr *UpstreamProtocolError
	assert.ErrorAs(t, last.Err, &protoErr)
}

func TestAnthropicCompatible_EstimateCost(t *testing.T) {
	p := newTestAnthropic("http://unused")
	cost := p.EstimateCost(dialect.Usage{PromptTokens: 1000, CompletionTokens: 1000}, "claude-3-haiku")
	assert.Greater(t, cost, 0.0)
}
