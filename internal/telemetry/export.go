package telemetry

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// exportRow is the flattened, Parquet-taggable projection of a call_log
// row.
type exportRow struct {
	RequestID              string  `parquet:"name=request_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp              string  `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Provider               string  `parquet:"name=provider, type=BYTE_ARRAY, convertedtype=UTF8"`
	Model                  string  `parquet:"name=model, type=BYTE_ARRAY, convertedtype=UTF8"`
	Success                bool    `parquet:"name=success, type=BOOLEAN"`
	ActualPromptTokens     int32   `parquet:"name=actual_prompt_tokens, type=INT32"`
	ActualCompletionTokens int32   `parquet:"name=actual_completion_tokens, type=INT32"`
	ActualTotalTokens      int32   `parquet:"name=actual_total_tokens, type=INT32"`
	EstimatedCostUSD       float64 `parquet:"name=estimated_cost_usd, type=DOUBLE"`
	EstimatedCacheHitRate  float64 `parquet:"name=estimated_cache_hit_rate, type=DOUBLE"`
	ActualCacheHitRate     float64 `parquet:"name=actual_cache_hit_rate, type=DOUBLE"`
}

// ExportFilters narrows which rows Export writes out: date range,
// model, provider, success-only.
type ExportFilters struct {
	From        *time.Time
	To          *time.Time
	Model       string
	Provider    string
	SuccessOnly bool
}

// Export writes the filtered rows to a Parquet file at destPath. It
// writes a subset of call_log's flat columns under their table names:
// request_id, timestamp (as an RFC3339 string), provider, model,
// success, actual prompt/completion/total tokens, estimated_cost_usd,
// estimated_cache_hit_rate and actual_cache_hit_rate (NULL written as
// 0). The raw_* columns and the other estimated_* columns are not
// exported.
func (s *Store) Export(destPath string, filters ExportFilters) (int64, error) {
	query := `
		SELECT request_id, timestamp, provider, model, success,
		       actual_prompt_tokens, actual_completion_tokens, actual_total_tokens,
		       estimated_cost_usd, estimated_cache_hit_rate, actual_cache_hit_rate
		FROM call_log WHERE 1=1
	`
	var args []any
	if filters.From != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		query += " AND timestamp <= ?"
		args = append(args, *filters.To)
	}
	if filters.Model != "" {
		query += " AND model = ?"
		args = append(args, filters.Model)
	}
	if filters.Provider != "" {
		query += " AND provider = ?"
		args = append(args, filters.Provider)
	}
	if filters.SuccessOnly {
		query += " AND success = 1"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return 0, fmt.Errorf("telemetry: querying export rows: %w", err)
	}
	defer rows.Close()

	fw, err := local.NewLocalFileWriter(destPath)
	if err != nil {
		return 0, fmt.Errorf("telemetry: opening parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(exportRow), 4)
	if err != nil {
		return 0, fmt.Errorf("telemetry: creating parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	var count int64
	for rows.Next() {
		var r exportRow
		var ts time.Time
		var success bool
		var promptTok, completionTok, totalTok int32
		var actualRate sql.NullFloat64
		if err := rows.Scan(&r.RequestID, &ts, &r.Provider, &r.Model, &success,
			&promptTok, &completionTok, &totalTok,
			&r.EstimatedCostUSD, &r.EstimatedCacheHitRate, &actualRate); err != nil {
			return count, fmt.Errorf("telemetry: scanning export row: %w", err)
		}
		r.Timestamp = ts.Format(time.RFC3339)
		r.Success = success
		r.ActualPromptTokens = promptTok
		r.ActualCompletionTokens = completionTok
		r.ActualTotalTokens = totalTok
		r.ActualCacheHitRate = actualRate.Float64

		if err := pw.Write(r); err != nil {
			return count, fmt.Errorf("telemetry: writing parquet row: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}

	if err := pw.WriteStop(); err != nil {
		return count, fmt.Errorf("telemetry: finalizing parquet file: %w", err)
	}
	return count, nil
}
