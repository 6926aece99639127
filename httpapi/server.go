package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jdockerty/chipmunk/common"
)

// Config holds all dependencies and tuning knobs for a Server.
type Config struct {
	// Engine is the storage engine the façade fronts. Required.
	Engine common.StorageEngine

	// Logger receives structured request and lifecycle logs. Defaults to
	// a no-op logger when nil.
	Logger *zap.Logger

	// PoolSize bounds the worker pool handler bodies are dispatched onto.
	// Defaults to 8 when <= 0.
	PoolSize int

	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the chipmunk HTTP façade: a thin routing and dispatch layer
// in front of a common.StorageEngine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	engine     common.StorageEngine
	logger     *zap.Logger
	dispatcher *dispatcher
}

// Handler returns the root HTTP handler, primarily for use in tests with
// httptest.NewServer / httptest.NewRecorder.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// New constructs a Server with all routes registered.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("httpapi: Config.Engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 8
	}
	d, err := newDispatcher(poolSize)
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:     cfg.Engine,
		logger:     logger,
		dispatcher: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/{key}", s.handleGet)
	mux.HandleFunc("POST /api/v1", s.handlePut)
	mux.HandleFunc("DELETE /api/v1/{key}", s.handleDelete)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Middleware chain (outermost executes first): request ID, then
	// logging (so the request ID is already attached to the context),
	// then panic recovery innermost so it guards every handler body.
	var handler http.Handler = mux
	handler = recoveryMiddleware(logger, handler)
	handler = loggingMiddleware(logger, handler)
	handler = requestIDMiddleware(handler)
	s.handler = handler

	addr := cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:5000"
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// ListenAndServe starts the HTTP server and blocks until it stops. It
// always returns a non-nil error; http.ErrServerClosed indicates a clean
// shutdown via Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("httpapi: listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and releases the worker pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.dispatcher.release()
	return err
}

// writeInternalError logs the underlying cause with the request's id and
// writes a generic 500 to the client, never leaking internal detail.
func (s *Server) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.Error(msg,
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestIDFromContext(r.Context())),
	)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrKeyNotFound)
}
