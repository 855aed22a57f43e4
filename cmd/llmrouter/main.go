// Package main is the entry point for the llmrouter gateway. Exit
// codes: 0 success, 1 config/startup error, 2 runtime error.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/howard-nolan/llmrouter/internal/cache"
	"github.com/howard-nolan/llmrouter/internal/config"
	"github.com/howard-nolan/llmrouter/internal/dashboardview"
	"github.com/howard-nolan/llmrouter/internal/dialect"
	"github.com/howard-nolan/llmrouter/internal/obslog"
	"github.com/howard-nolan/llmrouter/internal/pipeline"
	"github.com/howard-nolan/llmrouter/internal/provider"
	"github.com/howard-nolan/llmrouter/internal/router"
	"github.com/howard-nolan/llmrouter/internal/server"
	"github.com/howard-nolan/llmrouter/internal/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "server":
		code = cmdServer(os.Args[2:])
	case "test":
		code = cmdTest(os.Args[2:])
	case "init":
		code = cmdInit(os.Args[2:])
	case "gui":
		code = cmdGUI(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		code = 0
	default:
		fmt.Fprintf(os.Stderr, "llmrouter: unknown command %q\n", os.Args[1])
		printUsage()
		code = 1
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: llmrouter <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  server   start the gateway")
	fmt.Fprintln(os.Stderr, "  test     test provider connectivity")
	fmt.Fprintln(os.Stderr, "  init     emit a configuration template")
	fmt.Fprintln(os.Stderr, "  gui      launch the analytics viewer")
}

// buildProviders constructs the ordered router entries from config,
// one HTTP client per provider so MaxConnectionsPerProvider and the
// optional outbound proxy apply independently to each upstream.
func buildProviders(cfg *config.Config) ([]router.Entry, error) {
	entries := make([]router.Entry, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		client := newProviderHTTPClient(cfg)

		var p provider.Provider
		switch pc.DialectHint {
		case "openai_compatible":
			p = provider.NewOpenAICompatible(pc.APIKey, pc.BaseURL, client)
		case "anthropic_compatible":
			p = provider.NewAnthropicCompatible(pc.APIKey, pc.BaseURL, client)
		default:
			return nil, &config.ConfigError{Reason: fmt.Sprintf("provider %q has unknown dialect_hint %q", pc.Name, pc.DialectHint)}
		}
		entries = append(entries, router.Entry{Name: pc.Name, Provider: p})
	}
	return entries, nil
}

// newProviderHTTPClient builds a new client around its own cloned
// transport on every call (buildProviders calls it once per provider):
// a connection pool sized by MaxConnectionsPerProvider, the upstream
// timeout, and an optional proxy.
func newProviderHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.Server.MaxConnectionsPerProvider
	transport.MaxIdleConnsPerHost = cfg.Server.MaxConnectionsPerProvider

	if proxyURL := proxyFunc(cfg); proxyURL != nil {
		transport.Proxy = proxyURL
	}

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.Server.UpstreamTimeoutSeconds) * time.Second,
	}
}

func proxyFunc(cfg *config.Config) func(*http.Request) (*url.URL, error) {
	raw := cfg.Proxy.HTTPURL
	if raw == "" {
		raw = cfg.Proxy.SOCKSURL
	}
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	if cfg.Proxy.BasicAuthUser != "" {
		parsed.User = url.UserPassword(cfg.Proxy.BasicAuthUser, cfg.Proxy.BasicAuthPass)
	}
	return http.ProxyURL(parsed)
}

func cmdServer(args []string) int {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: %v\n", err)
		return 1
	}

	logger, err := obslog.New(cfg.Logging.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: building logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	entries, err := buildProviders(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: %v\n", err)
		return 1
	}
	rtr := router.New(entries)

	var store *telemetry.Store
	if cfg.Logging.Enabled {
		store, err = telemetry.Open(cfg.Logging.StoragePath, cfg.Logging.QueueCapacity, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "llmrouter: opening telemetry store: %v\n", err)
			return 1
		}
		defer store.Close()
	}

	estimator := cache.New(cfg.Analysis.CacheProbabilities.ToProbabilities())
	pl := pipeline.New(rtr, estimator, store, logger)
	srv := server.New(cfg, rtr, pl, store, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Infow("llmrouter listening", "addr", httpServer.Addr)

	if err := httpServer.ListenAndServe(); err != nil {
		logger.Errorw("server error", "error", err)
		return 2
	}
	return 0
}

// cmdTest issues a minimal buffered call per configured provider and
// reports status/latency/error, without starting the gateway.
func cmdTest(args []string) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: %v\n", err)
		return 1
	}

	entries, err := buildProviders(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	allOK := true
	for _, e := range entries {
		probe := probeBody(e.Provider.DialectTag())
		start := time.Now()
		status, body, _, err := e.Provider.SendBuffered(ctx, probe)
		elapsed := time.Since(start)

		if err != nil {
			allOK = false
			fmt.Printf("✗ %-12s error: %v (%.0fms)\n", e.Name, err, elapsed.Seconds()*1000)
			continue
		}
		if status < 200 || status >= 300 {
			allOK = false
			fmt.Printf("✗ %-12s http %d (%.0fms): %s\n", e.Name, status, elapsed.Seconds()*1000, truncate(body, 200))
			continue
		}
		fmt.Printf("✓ %-12s ok (%.0fms)\n", e.Name, elapsed.Seconds()*1000)
	}

	if !allOK {
		return 2
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// probeBody builds the smallest valid request body for a connectivity
// check: one user turn, a tiny max_tokens, no streaming.
func probeBody(d dialect.Dialect) []byte {
	if d == dialect.AnthropicCompatible {
		return []byte(`{"model":"claude-3-5-haiku-20241022","max_tokens":1,"messages":[{"role":"user","content":"ping"}]}`)
	}
	return []byte(`{"model":"gpt-4o-mini","max_tokens":1,"messages":[{"role":"user","content":"ping"}]}`)
}

// cmdInit emits a starter configuration file.
func cmdInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	output := fs.String("output", "config.yaml", "output configuration file path")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if _, err := os.Stat(*output); err == nil {
		fmt.Fprintf(os.Stderr, "llmrouter: %s already exists, not overwriting\n", *output)
		return 1
	}

	if err := os.WriteFile(*output, []byte(configTemplate), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: writing %s: %v\n", *output, err)
		return 1
	}
	fmt.Printf("wrote %s\n", *output)
	return 0
}

const configTemplate = `# llmrouter configuration template

server:
  host: 0.0.0.0
  port: 8080
  read_timeout: 30s
  write_timeout: 120s
  max_connections_per_provider: 10
  upstream_timeout_seconds: 30

providers:
  - name: openai
    api_key: ${OPENAI_API_KEY}
    base_url: https://api.openai.com/v1
    dialect_hint: openai_compatible
  - name: anthropic
    api_key: ${ANTHROPIC_API_KEY}
    base_url: https://api.anthropic.com/v1
    dialect_hint: anthropic_compatible

proxy:
  # http_url: http://proxy.example.com:8080
  # socks_url: socks5://127.0.0.1:1080
  timeout_seconds: 30

logging:
  enabled: true
  storage_path: llmrouter.db
  queue_capacity: 1000
  debug: false

analysis:
  cache_analysis_enabled: true
`

// cmdGUI launches the read-only analytics viewer against an existing
// telemetry store, served in-process rather than shelling out to a
// separate dashboard program.
func cmdGUI(args []string) int {
	fs := flag.NewFlagSet("gui", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to configuration file")
	addr := fs.String("addr", "localhost:8501", "address to serve the dashboard on")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: %v\n", err)
		return 1
	}

	logger, err := obslog.New(cfg.Logging.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: building logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	store, err := telemetry.Open(cfg.Logging.StoragePath, cfg.Logging.QueueCapacity, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: opening telemetry store: %v\n", err)
		return 1
	}
	defer store.Close()

	view := dashboardview.New(store)
	fmt.Printf("llmrouter analytics dashboard on http://%s\n", *addr)
	if err := http.ListenAndServe(*addr, view); err != nil {
		fmt.Fprintf(os.Stderr, "llmrouter: gui server error: %v\n", err)
		return 2
	}
	return 0
}
