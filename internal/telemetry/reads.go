package telemetry

import (
	"database/sql"
	"time"
)

// CacheComparisonRow is one row of the cache_analysis_comparison view.
type CacheComparisonRow struct {
	RequestID             string
	Provider              string
	Model                 string
	EstimatedCacheHitRate float64
	ActualCacheHitRate    float64
	HitRateDiff           float64
	PredictionError       float64
	Timestamp             time.Time
}

// PerformanceStatsRow is one row of the performance_stats view.
type PerformanceStatsRow struct {
	Model                 string
	Provider              string
	Day                   string
	Count                 int
	AvgTTFTMillis         *float64
	AvgTPOTMillis         *float64
	AvgTotalLatencyMillis float64
	AvgTokensPerSecond    *float64
	SumTotalTokens        int64
	SumCostUSD            float64
}

// DatabaseStats is a summary of the store's overall size and coverage.
type DatabaseStats struct {
	TotalCalls        int64
	DateFrom          *time.Time
	DateTo            *time.Time
	DBSizeBytes       int64
	DistinctModels    int64
	DistinctProviders int64
}

// CacheAnalysisComparison returns up to `days` worth of
// cache_analysis_comparison rows.
func (s *Store) CacheAnalysisComparison(days int) ([]CacheComparisonRow, error) {
	rows, err := s.db.Query(`
		SELECT request_id, provider, model, estimated_cache_hit_rate, actual_cache_hit_rate,
		       hit_rate_diff, prediction_error, timestamp
		FROM cache_analysis_comparison
		WHERE timestamp >= datetime('now', printf('-%d days', ?))
		ORDER BY timestamp DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CacheComparisonRow
	for rows.Next() {
		var r CacheComparisonRow
		if err := rows.Scan(&r.RequestID, &r.Provider, &r.Model, &r.EstimatedCacheHitRate,
			&r.ActualCacheHitRate, &r.HitRateDiff, &r.PredictionError, &r.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PerformanceStats returns performance_stats rows, optionally filtered
// by model and/or provider (empty string means "no filter"), limited
// to the trailing `days` window.
func (s *Store) PerformanceStats(model, provider string, days int) ([]PerformanceStatsRow, error) {
	query := `
		SELECT model, provider, day, count, avg_ttft_ms, avg_tpot_ms,
		       avg_total_latency_ms, avg_tokens_per_second, sum_total_tokens, sum_cost_usd
		FROM performance_stats
		WHERE day >= date('now', printf('-%d days', ?))
	`
	args := []any{days}
	if model != "" {
		query += " AND model = ?"
		args = append(args, model)
	}
	if provider != "" {
		query += " AND provider = ?"
		args = append(args, provider)
	}
	query += " ORDER BY day DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PerformanceStatsRow
	for rows.Next() {
		var r PerformanceStatsRow
		if err := rows.Scan(&r.Model, &r.Provider, &r.Day, &r.Count, &r.AvgTTFTMillis, &r.AvgTPOTMillis,
			&r.AvgTotalLatencyMillis, &r.AvgTokensPerSecond, &r.SumTotalTokens, &r.SumCostUSD); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetCacheAnalysisSummary aggregates prediction error over the
// trailing `days` window — a condensed view of CacheAnalysisComparison
// for dashboard consumption.
func (s *Store) GetCacheAnalysisSummary(days int) (avgPredictionError float64, sampleCount int64, err error) {
	row := s.db.QueryRow(`
		SELECT COALESCE(AVG(prediction_error), 0), COUNT(*)
		FROM cache_analysis_comparison
		WHERE timestamp >= datetime('now', printf('-%d days', ?))
	`, days)
	err = row.Scan(&avgPredictionError, &sampleCount)
	return avgPredictionError, sampleCount, err
}

// GetDatabaseStats reports row count, date coverage, distinct
// model/provider counts, and on-disk size.
func (s *Store) GetDatabaseStats() (DatabaseStats, error) {
	var stats DatabaseStats
	row := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT model), COUNT(DISTINCT provider)
		FROM call_log
	`)
	if err := row.Scan(&stats.TotalCalls, &stats.DistinctModels, &stats.DistinctProviders); err != nil {
		return stats, err
	}

	// The boundary timestamps come from the column itself rather than
	// MIN()/MAX() expressions: aggregate expressions lose the column's
	// declared type, and the sqlite driver only parses DATETIME-declared
	// values back into time.Time.
	if stats.TotalCalls > 0 {
		var from, to sql.NullTime
		if err := s.db.QueryRow(`SELECT timestamp FROM call_log ORDER BY timestamp ASC LIMIT 1`).Scan(&from); err == nil && from.Valid {
			stats.DateFrom = &from.Time
		}
		if err := s.db.QueryRow(`SELECT timestamp FROM call_log ORDER BY timestamp DESC LIMIT 1`).Scan(&to); err == nil && to.Valid {
			stats.DateTo = &to.Time
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err == nil {
			stats.DBSizeBytes = pageCount * pageSize
		}
	}

	return stats, nil
}
