// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/sahayak/pkg/auth"
	"github.com/kadirpekel/sahayak/pkg/classifier"
	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/observability"
	"github.com/kadirpekel/sahayak/pkg/orchestrator"
	"github.com/kadirpekel/sahayak/pkg/ratelimit"
	"github.com/kadirpekel/sahayak/pkg/session"
)

// Service is the engine surface the HTTP layer drives.
// *orchestrator.Engine implements it.
type Service interface {
	CreateSession(ctx context.Context) (*session.State, error)
	Session(ctx context.Context, id string) (*session.State, error)
	EndSession(ctx context.Context, id string) error
	Ask(ctx context.Context, sessionID, query string, profile classifier.Profile) (*orchestrator.Answer, error)
}

// Server is the sahayak HTTP server.
type Server struct {
	cfg       config.ServerConfig
	svc       Service
	validator auth.TokenValidator
	limiter   *ratelimit.Limiter
	metrics   http.Handler
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAuthValidator protects the /v1 routes.
func WithAuthValidator(v auth.TokenValidator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// WithRateLimiter caps how often one caller may post messages.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func New(cfg config.ServerConfig, svc Service, opts ...Option) *Server {
	cfg.SetDefaults()
	s := &Server{cfg: cfg, svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router. It is exported for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Order: tracing/metrics -> request id -> recover -> logging
	r.Use(observability.HTTPMiddleware(routePattern))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if s.validator != nil {
			r.Use(auth.Middleware(s.validator))
			if roles := s.cfg.Auth.RequiredRoles; len(roles) > 0 {
				r.Use(auth.RequireRole(roles...))
			}
		}
		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.With(ratelimit.Middleware(s.limiter, ratelimit.SubjectOrIP)).Post("/messages", s.handleMessage)
		})
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("HTTP server starting",
		"address", s.cfg.Address,
		"auth", s.validator != nil,
		"rate_limit", s.limiter != nil,
		"metrics", s.metrics != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown waits up to 10s for in-flight turns.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	return nil
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// loggingMiddleware leaves the ResponseWriter unwrapped.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
