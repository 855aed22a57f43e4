package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/howard-nolan/llmrouter/internal/obslog"
)

// schema is the physical table plus the two durable read views, one
// embedded multi-statement string run through db.Exec at open time.
const schema = `
CREATE TABLE IF NOT EXISTS call_log (
	request_id TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	endpoint TEXT NOT NULL,

	success BOOLEAN NOT NULL,
	error_message TEXT,

	raw_request_method TEXT,
	raw_request_url TEXT,
	raw_request_headers TEXT,
	raw_request_body BLOB,
	raw_client_addr TEXT,
	raw_user_agent TEXT,
	raw_response_status INTEGER,
	raw_response_headers TEXT,
	raw_response_body BLOB,
	raw_response_bytes INTEGER,
	raw_upstream_url TEXT,
	raw_upstream_headers TEXT,
	raw_upstream_status INTEGER,

	estimated_ttft_ms INTEGER,
	estimated_tpot_ms REAL,
	estimated_total_latency_ms INTEGER NOT NULL,
	estimated_tokens_per_second REAL,
	estimated_network_latency_ms INTEGER,
	estimated_cached_tokens INTEGER NOT NULL DEFAULT 0,
	estimated_fresh_tokens INTEGER NOT NULL DEFAULT 0,
	estimated_cache_hit_rate REAL NOT NULL DEFAULT 0,
	estimated_cache_breakdown TEXT,
	estimated_cost_usd REAL NOT NULL DEFAULT 0,
	analysis_timestamp DATETIME,

	proxy_used TEXT,
	user_id TEXT,
	session_id TEXT,

	actual_prompt_tokens INTEGER NOT NULL DEFAULT 0,
	actual_completion_tokens INTEGER NOT NULL DEFAULT 0,
	actual_total_tokens INTEGER NOT NULL DEFAULT 0,
	actual_cached_tokens INTEGER NOT NULL DEFAULT 0,
	actual_cache_hit_rate REAL
);

CREATE INDEX IF NOT EXISTS idx_call_log_model_timestamp ON call_log(model, timestamp);
CREATE INDEX IF NOT EXISTS idx_call_log_provider_model ON call_log(provider, model);
CREATE INDEX IF NOT EXISTS idx_call_log_cache_rates ON call_log(estimated_cache_hit_rate, actual_cache_hit_rate);
CREATE INDEX IF NOT EXISTS idx_call_log_user_session ON call_log(user_id, session_id);

CREATE VIEW IF NOT EXISTS cache_analysis_comparison AS
SELECT
	request_id, provider, model,
	estimated_cache_hit_rate, actual_cache_hit_rate,
	(actual_cache_hit_rate - estimated_cache_hit_rate) AS hit_rate_diff,
	ABS(actual_cache_hit_rate - estimated_cache_hit_rate) AS prediction_error,
	timestamp
FROM call_log
WHERE actual_cache_hit_rate IS NOT NULL;

CREATE VIEW IF NOT EXISTS performance_stats AS
SELECT
	model, provider, date(timestamp) AS day,
	COUNT(*) AS count,
	AVG(estimated_ttft_ms) AS avg_ttft_ms,
	AVG(estimated_tpot_ms) AS avg_tpot_ms,
	AVG(estimated_total_latency_ms) AS avg_total_latency_ms,
	AVG(estimated_tokens_per_second) AS avg_tokens_per_second,
	SUM(actual_total_tokens) AS sum_total_tokens,
	SUM(estimated_cost_usd) AS sum_cost_usd
FROM call_log
WHERE success = 1
GROUP BY model, provider, date(timestamp);
`

// WriteJob is one queued CallLog append. Queued rather than written
// synchronously so the request path never waits on SQLite.
type WriteJob struct {
	Log CallLog
	// flushed, when non-nil, marks a barrier job: the writer closes it
	// instead of inserting, signalling that everything enqueued before
	// it has been written.
	flushed chan struct{}
}

// Store is the embedded analytical store: a *sql.DB over SQLite plus a
// bounded write queue drained by a single goroutine. Reads may run
// concurrently; writes are serialized through the queue.
type Store struct {
	db     *sql.DB
	queue  chan WriteJob
	log    *obslog.Logger
	done   chan struct{}
	closed chan struct{}
}

// Open creates/opens the SQLite database at path, applies the schema,
// and starts the background writer. queueCapacity bounds how many
// pending writes may back up before new enqueues are dropped.
func Open(path string, queueCapacity int, logger *obslog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry: opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry: applying schema: %w", err)
	}

	if logger == nil {
		logger = obslog.NewNop()
	}

	s := &Store{
		db:     db,
		queue:  make(chan WriteJob, queueCapacity),
		log:    logger,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.writeLoop()
	return s, nil
}

// Enqueue submits a CallLog for asynchronous append. Never blocks the
// caller beyond a full queue check — on overflow the job is dropped and
// logged, not retried.
func (s *Store) Enqueue(log CallLog) {
	select {
	case s.queue <- WriteJob{Log: log}:
	default:
		s.log.Warnw("telemetry queue full, dropping call log", "request_id", log.RequestID)
	}
}

func (s *Store) writeLoop() {
	defer close(s.closed)
	for {
		select {
		case job := <-s.queue:
			s.handle(job)
		case <-s.done:
			// Drain remaining queued jobs before exiting.
			for {
				select {
				case job := <-s.queue:
					s.handle(job)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) handle(job WriteJob) {
	if job.flushed != nil {
		close(job.flushed)
		return
	}
	if err := s.insert(job.Log); err != nil {
		s.log.Errorw("telemetry write failed", "request_id", job.Log.RequestID, "error", err)
	}
}

// Flush blocks until every CallLog enqueued before the call has been
// written. Read-your-writes for callers that query right after
// enqueueing; the request path never needs it.
func (s *Store) Flush() {
	done := make(chan struct{})
	s.queue <- WriteJob{flushed: done}
	<-done
}

func (s *Store) insert(l CallLog) error {
	reqHeaders, _ := json.Marshal(l.Raw.RequestHeaders)
	respHeaders, _ := json.Marshal(l.Raw.ResponseHeaders)
	upstreamHeaders, _ := json.Marshal(l.Raw.UpstreamHeaders)
	breakdown, _ := json.Marshal(l.Estimated.CacheBreakdown)

	_, err := s.db.Exec(`
		INSERT INTO call_log (
			request_id, timestamp, provider, model, endpoint,
			success, error_message,
			raw_request_method, raw_request_url, raw_request_headers, raw_request_body,
			raw_client_addr, raw_user_agent,
			raw_response_status, raw_response_headers, raw_response_body, raw_response_bytes,
			raw_upstream_url, raw_upstream_headers, raw_upstream_status,
			estimated_ttft_ms, estimated_tpot_ms, estimated_total_latency_ms,
			estimated_tokens_per_second, estimated_network_latency_ms,
			estimated_cached_tokens, estimated_fresh_tokens, estimated_cache_hit_rate,
			estimated_cache_breakdown, estimated_cost_usd, analysis_timestamp,
			proxy_used, user_id, session_id,
			actual_prompt_tokens, actual_completion_tokens, actual_total_tokens,
			actual_cached_tokens, actual_cache_hit_rate
		) VALUES (?,?,?,?,?, ?,?, ?,?,?,?, ?,?, ?,?,?,?, ?,?,?, ?,?,?, ?,?, ?,?,?, ?,?,?, ?,?,?, ?,?,?, ?,?)
	`,
		l.RequestID, l.Timestamp, l.Provider, l.Model, l.Endpoint,
		l.Success, l.ErrorMessage,
		l.Raw.RequestMethod, l.Raw.RequestURL, string(reqHeaders), l.Raw.RequestBody,
		l.Raw.ClientAddr, l.Raw.UserAgent,
		l.Raw.ResponseStatus, string(respHeaders), l.Raw.ResponseBody, l.Raw.ResponseBytes,
		l.Raw.UpstreamURL, string(upstreamHeaders), l.Raw.UpstreamStatus,
		l.Estimated.TTFTMillis, l.Estimated.TPOTMillis, l.Estimated.TotalLatencyMillis,
		l.Estimated.TokensPerSecond, l.Estimated.NetworkLatencyMillis,
		l.Estimated.EstimatedCachedTokens, l.Estimated.EstimatedFreshTokens, l.Estimated.EstimatedCacheHitRate,
		string(breakdown), l.Estimated.EstimatedCostUSD, l.Estimated.AnalysisTimestamp,
		l.ProxyUsed, l.UserID, l.SessionID,
		l.ActualPromptTokens, l.ActualCompletionTokens, l.ActualTotalTokens,
		l.ActualCachedTokens, l.ActualCacheHitRate,
	)
	return err
}

// Close signals the writer goroutine to drain the queue, waits for it
// to finish everything already queued, and closes the database handle.
// Enqueue is not guarded against a closed store: a CallLog enqueued
// after Close is never written.
func (s *Store) Close() error {
	close(s.done)
	<-s.closed
	return s.db.Close()
}

// DB exposes the underlying handle for ad-hoc read queries; the read
// methods in reads.go use the handle directly.
func (s *Store) DB() *sql.DB {
	return s.db
}
