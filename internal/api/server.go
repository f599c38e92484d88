// Package api exposes the HTTP interface for the video metadata service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tubemeta/tubemeta/internal/metrics"
	"github.com/tubemeta/tubemeta/internal/tube"
)

// VideoFetcher runs the fetch flow for one entry.
type VideoFetcher interface {
	FetchOne(ctx context.Context, entryID string, force bool) (*tube.Record, error)
}

// Server wires HTTP handlers to the pipeline and the record cache.
type Server struct {
	router  chi.Router
	fetcher VideoFetcher
	cache   tube.RecordCache
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(fetcher VideoFetcher, cache tube.RecordCache, logger *zap.Logger) *Server {
	s := &Server{
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/videos/{video_id}", func(r chi.Router) {
			r.Get("/", s.getVideo)
			r.Post("/fetch", s.fetchVideo)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	record, ok := s.cache.Get(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, "video not fetched")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) fetchVideo(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "video_id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	record, err := s.fetcher.FetchOne(r.Context(), videoID, force)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusBadRequest, "not a video id")
		return
	}
	writeJSON(w, http.StatusOK, record)
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
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
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
