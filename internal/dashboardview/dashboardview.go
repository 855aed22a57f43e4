// Package dashboardview is a minimal read-only HTML view over the
// telemetry store: plain net/http + html/template, no SPA. It reads
// the same views the /stats endpoint reads and renders them as static
// tables.
package dashboardview

import (
	"html/template"
	"net/http"

	"github.com/howard-nolan/llmrouter/internal/telemetry"
)

// View serves the dashboard. One View wraps one telemetry.Store.
type View struct {
	store *telemetry.Store
	tmpl  *template.Template
}

// New builds a View over an already-open telemetry store.
func New(store *telemetry.Store) *View {
	return &View{store: store, tmpl: template.Must(template.New("dashboard").Parse(pageTemplate))}
}

func (v *View) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := v.store.GetDatabaseStats()
	if err != nil {
		http.Error(w, "failed to load database stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	perf, err := v.store.PerformanceStats("", "", 30)
	if err != nil {
		http.Error(w, "failed to load performance stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	cache, err := v.store.CacheAnalysisComparison(30)
	if err != nil {
		http.Error(w, "failed to load cache analysis: "+err.Error(), http.StatusInternalServerError)
		return
	}

	avgErr, samples, err := v.store.GetCacheAnalysisSummary(30)
	if err != nil {
		avgErr, samples = 0, 0
	}

	data := pageData{
		Stats:           stats,
		Performance:     perf,
		CacheComparison: cache,
		CacheAvgError:   avgErr,
		CacheSamples:    samples,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := v.tmpl.Execute(w, data); err != nil {
		http.Error(w, "failed to render dashboard: "+err.Error(), http.StatusInternalServerError)
	}
}

type pageData struct {
	Stats           telemetry.DatabaseStats
	Performance     []telemetry.PerformanceStatsRow
	CacheComparison []telemetry.CacheComparisonRow
	CacheAvgError   float64
	CacheSamples    int64
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>llmrouter analytics</title>
	<style>
		body { font-family: sans-serif; margin: 2rem; color: #222; }
		table { border-collapse: collapse; margin-bottom: 2rem; }
		th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: right; }
		th { background: #f3f3f3; }
		h1, h2 { margin-top: 2rem; }
	</style>
</head>
<body>
	<h1>llmrouter analytics</h1>

	<h2>Database</h2>
	<table>
		<tr><th>total calls</th><td>{{.Stats.TotalCalls}}</td></tr>
		<tr><th>distinct models</th><td>{{.Stats.DistinctModels}}</td></tr>
		<tr><th>distinct providers</th><td>{{.Stats.DistinctProviders}}</td></tr>
		<tr><th>db size (bytes)</th><td>{{.Stats.DBSizeBytes}}</td></tr>
	</table>

	<h2>Performance, last 30 days</h2>
	<table>
		<tr><th>model</th><th>provider</th><th>day</th><th>count</th><th>avg ttft ms</th><th>avg tpot ms</th><th>avg latency ms</th><th>tokens/sec</th><th>cost usd</th></tr>
		{{range .Performance}}
		<tr>
			<td>{{.Model}}</td><td>{{.Provider}}</td><td>{{.Day}}</td><td>{{.Count}}</td>
			<td>{{.AvgTTFTMillis}}</td><td>{{.AvgTPOTMillis}}</td><td>{{.AvgTotalLatencyMillis}}</td>
			<td>{{.AvgTokensPerSecond}}</td><td>{{.SumCostUSD}}</td>
		</tr>
		{{end}}
	</table>

	<h2>Cache hit-rate prediction accuracy, last 30 days</h2>
	<p>average prediction error: {{.CacheAvgError}} over {{.CacheSamples}} samples</p>
	<table>
		<tr><th>request</th><th>provider</th><th>model</th><th>estimated</th><th>actual</th><th>diff</th></tr>
		{{range .CacheComparison}}
		<tr>
			<td>{{.RequestID}}</td><td>{{.Provider}}</td><td>{{.Model}}</td>
			<td>{{.EstimatedCacheHitRate}}</td><td>{{.ActualCacheHitRate}}</td><td>{{.HitRateDiff}}</td>
		</tr>
		{{end}}
	</table>
</body>
</html>
`
