// Package server sets up the HTTP router, middleware, and request handlers.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/howard-nolan/llmrouter/internal/config"
	"github.com/howard-nolan/llmrouter/internal/obslog"
	"github.com/howard-nolan/llmrouter/internal/pipeline"
	"github.com/howard-nolan/llmrouter/internal/router"
	"github.com/howard-nolan/llmrouter/internal/telemetry"
)

// Server holds the HTTP router and all dependencies that handlers need.
// Dispatch doesn't stop at "which provider handles this model" — that
// question, plus dialect translation, streaming, cache estimation, and
// telemetry, all live one layer down in the Pipeline. The Server's job
// is to decode just enough of the HTTP envelope to build a
// pipeline.RequestContext, hand off, and write back whatever the
// Pipeline decided.
type Server struct {
	router    chi.Router
	cfg       *config.Config
	rtr       *router.Router
	pipeline  *pipeline.Pipeline
	telemetry *telemetry.Store
	log       *obslog.Logger
	startedAt time.Time
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, rtr *router.Router, p *pipeline.Pipeline, store *telemetry.Store, logger *obslog.Logger) *Server {
	if logger == nil {
		logger = obslog.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		rtr:       rtr,
		pipeline:  p,
		telemetry: store,
		log:       logger,
		startedAt: time.Now(),
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
// This is conceptually like your Express app.use() / app.get() / app.post()
// setup, but gathered in one method so the routing table is easy to scan.
func (s *Server) routes() {
	r := chi.NewRouter()

	// --- Global middleware ---
	// middleware.Logger prints a log line for every request, similar to
	// morgan('dev') in Express. It logs method, path, status, and duration.
	r.Use(middleware.Logger)

	// middleware.Recoverer catches panics in handlers and returns a 500
	// instead of crashing the whole process. In Express, you'd use an
	// error-handling middleware like app.use((err, req, res, next) => ...).
	r.Use(middleware.Recoverer)

	// --- Routes ---
	r.Get("/health", s.handleHealth)
	r.Get("/v1/models", s.handleModels)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/messages", s.handleMessages)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface. Every incoming
// request flows through this method, and we just delegate to chi's router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
