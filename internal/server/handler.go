package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/howard-nolan/llmrouter/internal/config"
	"github.com/howard-nolan/llmrouter/internal/dialect"
	"github.com/howard-nolan/llmrouter/internal/pipeline"
)

// streamPeek is decoded first, before the pipeline's own dialect-specific
// decode, purely to answer one question: does the server need to hijack
// the ResponseWriter for SSE, or can it wait for a buffered Result? Both
// the OpenAI and Anthropic request bodies use the same "stream" key, so
// one tiny struct covers both dialects.
type streamPeek struct {
	Stream bool `json:"stream"`
}

// buildRequestContext lifts the handful of request attributes the
// pipeline needs out of *http.Request — everything else about HTTP
// framing stops at this boundary.
func buildRequestContext(r *http.Request) pipeline.RequestContext {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := make(map[string]string, len(r.URL.Query()))
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}
	return pipeline.RequestContext{
		Method:     r.Method,
		URL:        r.URL.String(),
		Headers:    headers,
		Query:      query,
		ClientAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		UserID:     r.Header.Get("X-User-Id"),
		SessionID:  r.Header.Get("X-Session-Id"),
	}
}

// handleHealth reports liveness plus which features are switched on.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":                 "ok",
		"timestamp":              time.Now().UTC(),
		"providers":              s.rtr.Names(),
		"logging_enabled":        s.cfg.Logging.Enabled,
		"cache_analysis_enabled": s.cfg.Analysis.CacheAnalysisEnabled,
		"uptime_seconds":         time.Since(s.startedAt).Seconds(),
	})
}

// handleModels synthesizes /v1/models from the configured provider
// list — there is no upstream "list models" call involved.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	entries := make([]modelEntry, 0, len(s.rtr.Providers()))
	for _, e := range s.rtr.Providers() {
		entries = append(entries, modelEntry{ID: e.Name, Object: "model", OwnedBy: e.Name})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   entries,
	})
}

// handleStats returns a snapshot of aggregate telemetry: overall
// database stats plus a short recent-performance window.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.telemetry == nil {
		json.NewEncoder(w).Encode(map[string]string{"error": "telemetry disabled"})
		return
	}

	dbStats, err := s.telemetry.GetDatabaseStats()
	if err != nil {
		s.log.Errorw("stats: database stats query failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	perf, err := s.telemetry.PerformanceStats("", "", 7)
	if err != nil {
		s.log.Errorw("stats: performance stats query failed", "error", err)
		perf = nil
	}

	avgPredictionError, cacheSamples, err := s.telemetry.GetCacheAnalysisSummary(7)
	if err != nil {
		s.log.Errorw("stats: cache analysis summary query failed", "error", err)
	}

	json.NewEncoder(w).Encode(map[string]any{
		"database":                 dbStats,
		"performance_last_7d":      perf,
		"cache_prediction_error":   avgPredictionError,
		"cache_prediction_samples": cacheSamples,
	})
}

// handleChatCompletions handles POST /v1/chat/completions — the
// OpenAI-dialect client endpoint.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dialect.OpenAICompatible)
}

// handleMessages handles POST /v1/messages — the Anthropic-dialect
// client endpoint.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, dialect.AnthropicCompatible)
}

// dispatch reads the body once, peeks its stream flag, and routes to
// the Pipeline's buffered or streaming path. Everything downstream of
// here — routing, translation, upstream call, telemetry — is the
// Pipeline's job; the server only knows HTTP.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, clientDialect dialect.Dialect) {
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	var raw json.RawMessage
	if err := decoder.Decode(&raw); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}

	var peek streamPeek
	_ = json.Unmarshal(raw, &peek)

	rc := buildRequestContext(r)
	rc.ProxyUsed = proxyLabel(s.cfg)

	if peek.Stream {
		s.pipeline.HandleStream(r.Context(), rc, clientDialect, raw, w)
		return
	}

	result := s.pipeline.Handle(r.Context(), rc, clientDialect, raw)
	if result.Status == 0 {
		// UpstreamCanceled: the client is already gone, nothing to write.
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

// proxyLabel reports the outbound proxy URL in use, if any, for
// CallLog.ProxyUsed.
func proxyLabel(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	if cfg.Proxy.HTTPURL != "" {
		return cfg.Proxy.HTTPURL
	}
	return cfg.Proxy.SOCKSURL
}
