// Package server provides the HTTP API of graphkernel.
//
// Every data request runs in its own transaction: writes through
// graphdb.DB.Update, reads through graphdb.DB.View. Kernel errors map to
// status codes:
//
//	ErrNotFound            -> 404
//	ErrIllegalValue        -> 400
//	ErrConstraintViolation -> 409
//	ErrLockFailure         -> 409
//	ErrTooManyTransactions -> 503
//	anything else          -> 500
//
// Endpoints:
//
//	GET    /health
//	GET    /stats
//	GET    /locks
//	GET    /relationship-types
//	POST   /relationship-types
//	POST   /nodes
//	GET    /nodes/{id}
//	DELETE /nodes/{id}
//	GET    /nodes/{id}/relationships?direction=out&type=KNOWS
//	PUT    /nodes/{id}/properties/{key}
//	DELETE /nodes/{id}/properties/{key}
//	POST   /relationships
//	GET    /relationships/{id}
//	DELETE /relationships/{id}
//	PUT    /relationships/{id}/properties/{key}
//	DELETE /relationships/{id}/properties/{key}
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/orneryd/graphkernel/pkg/config"
	"github.com/orneryd/graphkernel/pkg/core"
	"github.com/orneryd/graphkernel/pkg/graphdb"
	"github.com/orneryd/graphkernel/pkg/txn"
)

// ErrServerClosed is returned by Start after Stop.
var ErrServerClosed = errors.New("server closed")

// maxRequestSize caps request bodies.
const maxRequestSize = 10 * 1024 * 1024

// Server is the HTTP API server.
type Server struct {
	config config.ServerConfig
	db     *graphdb.DB

	httpServer *http.Server
	listener   net.Listener

	closed  atomic.Bool
	started time.Time

	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64
}

// New creates a server for db.
func New(db *graphdb.DB, cfg config.ServerConfig) (*Server, error) {
	if db == nil {
		return nil, fmt.Errorf("database required")
	}
	return &Server{config: cfg, db: db, started: time.Now()}, nil
}

// Start begins listening for HTTP connections.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[HTTP] server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ServerStats holds request counters.
type ServerStats struct {
	Uptime         time.Duration `json:"uptime"`
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	ActiveRequests int64         `json:"active_requests"`
}

// Stats returns request counters.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Uptime:         time.Since(s.started),
		RequestCount:   s.requestCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		ActiveRequests: s.activeRequests.Load(),
	}
}

// =============================================================================
// Router Setup
// =============================================================================

// Handler builds the router. Start serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.metricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/locks", s.handleLocks)

	r.Get("/relationship-types", s.handleListRelationshipTypes)
	r.Post("/relationship-types", s.handleCreateRelationshipType)

	r.Get("/reference-node", s.handleGetReferenceNode)
	r.Put("/reference-node/{id}", s.handleSetReferenceNode)

	r.Post("/nodes", s.handleCreateNode)
	r.Route("/nodes/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetNode)
		r.Delete("/", s.handleDeleteNode)
		r.Get("/relationships", s.handleNodeRelationships)
		r.Put("/properties/{key}", s.handleSetNodeProperty)
		r.Delete("/properties/{key}", s.handleRemoveNodeProperty)
	})

	r.Post("/relationships", s.handleCreateRelationship)
	r.Route("/relationships/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetRelationship)
		r.Delete("/", s.handleDeleteRelationship)
		r.Put("/properties/{key}", s.handleSetRelationshipProperty)
		r.Delete("/properties/{key}", s.handleRemoveRelationshipProperty)
	})
	return r
}

// =============================================================================
// Middleware
// =============================================================================

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path != "/health" {
			log.Printf("[HTTP] %s %s %d %v (%s)", r.Method, r.URL.Path, wrapped.status,
				time.Since(start), middleware.GetReqID(r.Context()))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}
				log.Printf("[HTTP] PANIC: %v", p)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// =============================================================================
// Admin Handlers
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats()
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"server":   s.Stats(),
		"database": stats,
	})
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.db.Locks())
}

func (s *Server) handleListRelationshipTypes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.db.Nodes().RelationshipTypes())
}

func (s *Server) handleCreateRelationshipType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.db.Nodes().CreateRelationshipType(req.Name)
	if err != nil {
		s.writeKernelError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"id": id, "name": req.Name})
}

// =============================================================================
// JSON helpers
// =============================================================================

func (s *Server) readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestSize))
	dec.UseNumber()
	return dec.Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, map[string]any{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

// writeKernelError maps a kernel error to its status code. Constraint
// violations carry their type and ids.
func (s *Server) writeKernelError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	var cv *core.ConstraintViolationError
	if errors.As(err, &cv) {
		s.errorCount.Add(1)
		s.writeJSON(w, status, map[string]any{
			"error":     true,
			"message":   err.Error(),
			"code":      status,
			"violation": cv.Type,
			"ids":       cv.IDs,
		})
		return
	}
	if status == http.StatusInternalServerError {
		log.Printf("[HTTP] ❌ %v", err)
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrConstraintViolation), errors.Is(err, core.ErrLockFailure):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrIllegalValue):
		return http.StatusBadRequest
	case errors.Is(err, txn.ErrTooManyTransactions), errors.Is(err, graphdb.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
