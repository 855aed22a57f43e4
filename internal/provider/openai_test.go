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

func newTestOpenAI(url string) *OpenAICompatible {
	return NewOpenAICompatible("sk-test", url, http.DefaultClient)
}

func TestOpenAICompatible_SendBuffered_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":1,"total_tokens":5}}`)
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	status, body, _, err := p.SendBuffered(context.Background(), []byte(`{"model":"gpt-4o","messages":[]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	usage, ok := p.ParseUsage(body)
	require.True(t, ok)
	assert.Equal(t, 5, usage.TotalTokens)
}

func TestOpenAICompatible_SendBuffered_UpstreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	_, _, _, err := p.SendBuffered(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var httpErr *UpstreamHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Status)
}

func TestOpenAICompatible_SendStreaming_StopsAtDoneSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":1,\"total_tokens\":4}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	ch, err := p.SendStreaming(context.Background(), []byte(`{"model":"gpt-4o","messages":[]}`))
	require.NoError(t, err)

	var texts []string
	var sawUsage dialect.Usage
	count := 0
	for f := range ch {
		count++
		if text, ok := f.Text(); ok {
			texts = append(texts, text)
		}
		if u, ok := f.Usage(); ok {
			sawUsage = u
		}
	}

	assert.Equal(t, 3, count)
	assert.Equal(t, []string{"hi"}, texts)
	assert.Equal(t, 4, sawUsage.TotalTokens)
}

func TestOpenAICompatible_SendStreaming_MalformedChunkYieldsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {not json at all\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := newTestOpenAI(srv.URL)
	ch, err := p.SendStreaming(context.Background(), []byte(`{"model":"gpt-4o","messages":[]}`))
	require.NoError(t, err)

	var last Frame
	for f := range ch {
		last = f
	}
	require.Error(t, last.Err)
	var protoErr *UpstreamProtocolError
	assert.ErrorAs(t, last.Err, &protoErr)
}

func TestOpenAICompatible_EstimateCost(t *testing.T) {
	p := newTestOpenAI("http://unused")
	cost := p.EstimateCost(dialect.Usage{PromptTokens: 1000, CompletionTokens: 1000}, "gpt-4")
	assert.Greater(t, cost, 0.0)
}
