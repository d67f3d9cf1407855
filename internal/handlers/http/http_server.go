package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tokenAggregator/internal/domain/model"
	"tokenAggregator/internal/domain/service"
	"tokenAggregator/internal/domain/useCases"
)

// DefaultQuery is used when a request carries no q parameter.
const DefaultQuery = "sol"

// HealthCheck reports whether core infrastructure is reachable.
type HealthCheck func(ctx context.Context) error

// Server represents an HTTP server with all routes configured
type Server struct {
	aggregator  useCases.Aggregator
	publisher   useCases.Publisher
	broadcaster useCases.Broadcaster
	health      HealthCheck
	logger      *slog.Logger
	mux         *http.ServeMux
	server      *http.Server
}

// NewServer creates a new HTTP server with configured routes. health may be nil.
func NewServer(
	addr string,
	aggregator useCases.Aggregator,
	publisher useCases.Publisher,
	broadcaster useCases.Broadcaster,
	health HealthCheck,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	s := &Server{
		aggregator:  aggregator,
		publisher:   publisher,
		broadcaster: broadcaster,
		health:      health,
		logger:      logger.With("component", "http"),
		mux:         mux,
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withCORS(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.registerRoutes()
	return s
}

// registerRoutes configures all HTTP routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/tokens", s.handleTokens)
	s.mux.HandleFunc("POST /api/trigger", s.handleTrigger)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("/ws", s.broadcaster.Handler())
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func queryParam(r *http.Request) string {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if q == "" {
		return DefaultQuery
	}
	return q
}

// parsePageRequest validates sort, order, period and limit. A bad cursor is
// not an error: paging restarts at the top.
func parsePageRequest(r *http.Request) (model.PageRequest, error) {
	params := r.URL.Query()

	sortKey, err := model.ParseSortKey(params.Get("sort"))
	if err != nil {
		return model.PageRequest{}, wrapError(err, fmt.Sprintf("invalid sort %q", params.Get("sort")), http.StatusBadRequest)
	}
	order, err := model.ParseOrder(params.Get("order"))
	if err != nil {
		return model.PageRequest{}, wrapError(err, fmt.Sprintf("invalid order %q", params.Get("order")), http.StatusBadRequest)
	}
	period, err := model.ParsePeriod(params.Get("period"))
	if err != nil {
		return model.PageRequest{}, wrapError(err, fmt.Sprintf("invalid period %q", params.Get("period")), http.StatusBadRequest)
	}

	limit := service.DefaultLimit
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return model.PageRequest{}, wrapError(errInvalidInput, fmt.Sprintf("invalid limit %q", raw), http.StatusBadRequest)
		}
		limit = service.ClampLimit(n)
	}

	return model.PageRequest{
		Sort:   sortKey,
		Order:  order,
		Period: period,
		Limit:  limit,
		Cursor: params.Get("cursor"),
	}, nil
}

// handleTokens serves one sorted page of merged tokens for q. Provider
// problems never fail the request; the list may be empty.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	req, err := parsePageRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	page := s.aggregator.List(r.Context(), queryParam(r), req)
	if page.Items == nil {
		page.Items = []model.MergedRecord{}
	}
	writeJSON(w, http.StatusOK, page)
}

// handleTrigger runs one publish cycle for q.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	q := queryParam(r)
	if err := s.publisher.PublishCycle(r.Context(), q); err != nil {
		writeError(w, s.logger, wrapError(err, "failed to publish", http.StatusServiceUnavailable))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "query": q})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeError(w, s.logger, wrapError(errUnavailable, "unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
