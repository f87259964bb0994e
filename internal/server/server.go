// Package server implements the HTTP Surface (spec §4.C11): route table,
// JSON decoding, SSE framing, health/model-list endpoints.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gravityproxy/internal/mapping"
	"gravityproxy/internal/metrics"
	"gravityproxy/internal/orchestrator"
)

// Server holds the HTTP router and the collaborators handlers need.
type Server struct {
	router       chi.Router
	orchestrator *orchestrator.Orchestrator
	mappingWatch func() mapping.Snapshot
	metrics      *metrics.Metrics
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler. metricsSink may be nil.
func New(orch *orchestrator.Orchestrator, mappingWatch func() mapping.Snapshot, requestTimeout time.Duration, metricsSink *metrics.Metrics) *Server {
	s := &Server{orchestrator: orch, mappingWatch: mappingWatch, metrics: metricsSink}
	s.routes(requestTimeout)
	return s
}

func (s *Server) routes(requestTimeout time.Duration) {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Post("/v1/chat/completions", s.handleOpenAIChatCompletions)
	r.Post("/v1/messages", s.handleAnthropicMessages)
	r.Get("/v1/models", s.handleModels)
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.Handler())

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
