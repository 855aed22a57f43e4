// Package telemetry implements the Telemetry Store (component I): the
// dual-track (raw + estimated) append-only log of every gateway call,
// backed by SQLite via mattn/go-sqlite3, with a bounded write queue so
// persistence stays off the response path.
package telemetry

import "time"

// RawCall is the byte-faithful record of one client request and its
// upstream interaction. Never rewritten once stored.
type RawCall struct {
	RequestMethod  string            `json:"request_method"`
	RequestURL     string            `json:"request_url"`
	RequestHeaders map[string]string `json:"request_headers"`
	RequestBody    []byte            `json:"request_body"`
	ClientAddr     string            `json:"client_addr"`
	UserAgent      string            `json:"user_agent"`

	ResponseStatus  int               `json:"response_status"`
	ResponseHeaders map[string]string `json:"response_headers"`
	ResponseBody    []byte            `json:"response_body"`
	ResponseBytes   int               `json:"response_bytes"`

	UpstreamURL     string            `json:"upstream_url"`
	UpstreamHeaders map[string]string `json:"upstream_headers"`
	UpstreamStatus  int               `json:"upstream_status"`

	ExtractedPromptTokens     int    `json:"extracted_prompt_tokens"`
	ExtractedCompletionTokens int    `json:"extracted_completion_tokens"`
	ExtractedTotalTokens      int    `json:"extracted_total_tokens"`
	ExtractedCacheHint        string `json:"extracted_cache_hint,omitempty"`
}

// CacheBreakdown is the three-bucket contribution split a cache.Analysis
// carries alongside its totals, for post-hoc inspection.
type CacheBreakdown struct {
	SystemBucketTokens   int `json:"system_bucket_tokens"`
	TemplateBucketTokens int `json:"template_bucket_tokens"`
	HistoryBucketTokens  int `json:"history_bucket_tokens"`
}

// EstimatedAnalysis is the gateway's own derivations: perf timing, the
// cache-reuse estimate, and the cost estimate.
type EstimatedAnalysis struct {
	TTFTMillis           *int64   `json:"ttft_ms"`
	TPOTMillis           *float64 `json:"tpot_ms"`
	TotalLatencyMillis   int64    `json:"total_latency_ms"`
	TokensPerSecond      *float64 `json:"tokens_per_second"`
	NetworkLatencyMillis *int64   `json:"network_latency_ms"`

	EstimatedCachedTokens int            `json:"estimated_cached_tokens"`
	EstimatedFreshTokens  int            `json:"estimated_fresh_tokens"`
	EstimatedCacheHitRate float64        `json:"estimated_cache_hit_rate"`
	CacheBreakdown        CacheBreakdown `json:"cache_breakdown"`

	EstimatedCostUSD  float64   `json:"estimated_cost_usd"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
}

// CallLog is the root entity persisted exactly once per request.
// ActualCachedTokens/ActualCacheHitRate come from upstream-native
// fields when a provider reports them; when unknown, ActualCachedTokens
// is zero and ActualCacheHitRate is nil.
type CallLog struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Endpoint  string    `json:"endpoint"`

	Success      bool    `json:"success"`
	ErrorMessage *string `json:"error_message"`

	Raw       RawCall           `json:"raw"`
	Estimated EstimatedAnalysis `json:"estimated"`

	ProxyUsed *string `json:"proxy_used"`
	UserID    *string `json:"user_id"`
	SessionID *string `json:"session_id"`

	ActualPromptTokens     int `json:"actual_prompt_tokens"`
	ActualCompletionTokens int `json:"actual_completion_tokens"`
	ActualTotalTokens      int `json:"actual_total_tokens"`
	ActualCachedTokens     int `json:"actual_cached_tokens"`
	// ActualCacheHitRate is nil when the upstream reported no cache
	// info at all — the comparison view only considers rows where the
	// upstream actually said something.
	ActualCacheHitRate *float64 `json:"actual_cache_hit_rate"`
}
