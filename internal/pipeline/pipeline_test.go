package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmrouter/internal/cache"
	"github.com/howard-nolan/llmrouter/internal/dialect"
	"github.com/howard-nolan/llmrouter/internal/obslog"
	"github.com/howard-nolan/llmrouter/internal/provider"
	"github.com/howard-nolan/llmrouter/internal/router"
	"github.com/howard-nolan/llmrouter/internal/telemetry"
)

// fakeUpstream serves both an OpenAI-shaped /chat/completions and an
// Anthropic-shaped /messages endpoint from the same httptest.Server, so
// one fixture covers every translate-mode combination a test needs.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req dialect.OpenAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Stream {
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
			return
		}

		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`)
	})
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		var req dialect.AnthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fmt.Fprint(w, `{"type":"message","role":"assistant","model":"claude-3-5-sonnet","content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":2}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func failingUpstream(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, entries []router.Entry) (*Pipeline, *telemetry.Store) {
	t.Helper()
	store, err := telemetry.Open(filepath.Join(t.TempDir(), "test.db"), 16, obslog.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rtr := router.New(entries)
	est := cache.New(cache.DefaultProbabilities)
	return New(rtr, est, store, obslog.NewNop()), store
}

func TestHandle_Passthrough_OpenAIToOpenAI(t *testing.T) {
	upstream := fakeUpstream(t)
	p := provider.NewOpenAICompatible("sk-test", upstream.URL, http.DefaultClient)
	pl, _ := newTestPipeline(t, []router.Entry{{Name: "openai", Provider: p}})

	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`)
	result := pl.Handle(context.Background(), RequestContext{Method: "POST"}, dialect.OpenAICompatible, body)

	require.NoError(t, result.Err)
	assert.Equal(t, http.StatusOK, result.Status)

	var resp dialect.OpenAIResponse
	require.NoError(t, json.Unmarshal(result.Body, &resp))
	assert.Equal(t, "hi there", resp.Choices[0].Message.Content.Text)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestHandle_Translation_AnthropicClientToOpenAIProvider(t *testing.T) {
	upstream := fakeUpstream(t)
	p := provider.NewOpenAICompatible("sk-test", upstream.URL, http.DefaultClient)
	pl, _ := newTestPipeline(t, []router.Entry{{Name: "openai", Provider: p}})

	body := []byte(`{"model":"claude-3-5-sonnet","max_tokens":100,"messages":[{"role":"user","content":"hello"}]}`)
	result := pl.Handle(context.Background(), RequestContext{Method: "POST"}, dialect.AnthropicCompatible, body)

	require.NoError(t, result.Err)
	assert.Equal(t, http.StatusOK, result.Status)

	var resp dialect.AnthropicResponse
	require.NoError(t, json.Unmarshal(result.Body, &resp))
	assert.Equal(t, "message", resp.Type)
	assert.Equal(t, "hi there", resp.Content[0].Text)
}

func TestHandle_UpstreamHTTPError_MirrorsStatusAndWritesCallLog(t *testing.T) {
	upstream := failingUpstream(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
	p := provider.NewOpenAICompatible("sk-bad", upstream.URL, http.DefaultClient)
	pl, store := newTestPipeline(t, []router.Entry{{Name: "openai", Provider: p}})

	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`)
	result := pl.Handle(context.Background(), RequestContext{Method: "POST"}, dialect.OpenAICompatible, body)

	assert.Equal(t, http.StatusUnauthorized, result.Status)
	assert.Error(t, result.Err)

	store.Flush()
	stats, err := store.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCalls)
}

func TestHandle_NoProviderForModel_BadRequestNoCallLog(t *testing.T) {
	pl, store := newTestPipeline(t, nil)

	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"hello"}]}`)
	result := pl.Handle(context.Background(), RequestContext{Method: "POST"}, dialect.OpenAICompatible, body)

	assert.Equal(t, http.StatusBadRequest, result.Status)
	assert.Error(t, result.Err)

	store.Flush()
	stats, err := store.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalCalls)
}

func TestHandle_BadClientRequest_MissingModel(t *testing.T) {
	pl, store := newTestPipeline(t, nil)

	body := []byte(`{"messages":[{"role":"user","content":"hello"}]}`)
	result := pl.Handle(context.Background(), RequestContext{Method: "POST"}, dialect.OpenAICompatible, body)

	assert.Equal(t, http.StatusBadRequest, result.Status)
	var badReq *BadClientRequest
	require.ErrorAs(t, result.Err, &badReq)

	store.Flush()
	stats, err := store.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalCalls)
}

func TestHandleStream_Passthrough_OpenAIToOpenAI(t *testing.T) {
	upstream := fakeUpstream(t)
	p := provider.NewOpenAICompatible("sk-test", upstream.URL, http.DefaultClient)
	pl, store := newTestPipeline(t, []router.Entry{{Name: "openai", Provider: p}})

	body := []byte(`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	pl.HandleStream(context.Background(), RequestContext{Method: "POST"}, dialect.OpenAICompatible, body, rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"content":"hi"`)
	assert.Contains(t, rec.Body.String(), "data: [DONE]")

	store.Flush()
	stats, err := store.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCalls)
}

func TestHandleStream_Translation_AnthropicClientToOpenAIProvider(t *testing.T) {
	upstream := fakeUpstream(t)
	p := provider.NewOpenAICompatible("sk-test", upstream.URL, http.DefaultClient)
	pl, _ := newTestPipeline(t, []router.Entry{{Name: "openai", Provider: p}})

	body := []byte(`{"model":"claude-3-5-sonnet","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	pl.HandleStream(context.Background(), RequestContext{Method: "POST"}, dialect.AnthropicCompatible, body, rec)

	assert.Contains(t, rec.Body.String(), `"text":"hi"`)
}

func TestHandleStream_MidStreamProtocolError_EmitsErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {broken json\n\n")
		flusher.Flush()
	}))
	t.Cleanup(srv.Close)

	p := provider.NewOpenAICompatible("sk-test", srv.URL, http.DefaultClient)
	pl, store := newTestPipeline(t, []router.Entry{{Name: "openai", Provider: p}})

	body := []byte(`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	pl.HandleStream(context.Background(), RequestContext{Method: "POST"}, dialect.OpenAICompatible, body, rec)

	// The good chunk made it out, then the in-band error event; never [DONE].
	assert.Contains(t, rec.Body.String(), `"content":"hi"`)
	assert.Contains(t, rec.Body.String(), `"error"`)
	assert.NotContains(t, rec.Body.String(), "data: [DONE]")

	store.Flush()
	stats, err := store.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCalls)
}

func TestHandleStream_ContextCanceled_SuccessTrueNoErrorEvent(t *testing.T) {
	upstream := fakeUpstream(t)
	p := provider.NewOpenAICompatible("sk-test", upstream.URL, http.DefaultClient)
	pl, store := newTestPipeline(t, []router.Entry{{Name: "openai", Provider: p}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := []byte(`{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hello"}]}`)
	rec := httptest.NewRecorder()
	pl.HandleStream(ctx, RequestContext{Method: "POST"}, dialect.OpenAICompatible, body, rec)

	assert.Empty(t, rec.Body.String())

	store.Flush()
	stats, err := store.GetDatabaseStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCalls)

	var success bool
	require.NoError(t, store.DB().QueryRow("SELECT success FROM call_log").Scan(&success))
	assert.True(t, success)
}
