package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/metrics"
	"github.com/JakeFAU/fetchgate/internal/telegram"
)

const (
	liveBanner     = "Bot is live!"
	maxUpdateBytes = 1 << 20
)

// UpdateHandler consumes decoded inbound events.
type UpdateHandler interface {
	HandleMessage(ctx context.Context, msg media.InboundMessage) error
	HandleAction(ctx context.Context, act media.InboundAction) error
}

// ReadinessFunc reports whether downstream dependencies can serve traffic.
type ReadinessFunc func(ctx context.Context) error

// Server wires HTTP handlers to the intake service.
type Server struct {
	router  chi.Router
	handler UpdateHandler
	secret  string
	ready   ReadinessFunc
	logger  *zap.Logger

	inflight sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes. An empty secret
// disables the webhook route.
func NewServer(handler UpdateHandler, secret string, ready ReadinessFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		handler: handler,
		secret:  secret,
		ready:   ready,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/", s.banner)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if secret != "" {
		r.Post("/telegram/{secret}", s.webhook)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Wait blocks until every update accepted by the webhook has been handled.
func (s *Server) Wait() {
	s.inflight.Wait()
}

func (s *Server) banner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, liveBanner); err != nil {
		s.logger.Warn("write banner failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	got := chi.URLParam(r, "secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	event, err := telegram.DecodeUpdate(body)
	if err != nil {
		// Telegram redelivers on non-2xx; a malformed update never becomes valid.
		s.logger.Warn("dropping update", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	if event.Message != nil || event.Action != nil {
		ctx := context.WithoutCancel(r.Context())
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			s.dispatch(ctx, event)
		}()
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) dispatch(ctx context.Context, event telegram.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("update handler panicked", zap.Any("panic", rec))
		}
	}()

	var err error
	switch {
	case event.Message != nil:
		err = s.handler.HandleMessage(ctx, *event.Message)
	case event.Action != nil:
		err = s.handler.HandleAction(ctx, *event.Action)
	}
	if err != nil {
		s.logger.Error("update handling failed", zap.Error(err))
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("route", routePattern(r)),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// routePattern keeps the webhook secret out of logs.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unknown"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
