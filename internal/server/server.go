// Package server exposes the cohort tables over HTTP and a websocket ranking feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"merchant-cohort-lab/internal/logging"
	"merchant-cohort-lab/internal/observability"
	"merchant-cohort-lab/internal/pipeline"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// Server serves one pipeline.
type Server struct {
	pipeline *pipeline.Pipeline
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

// New builds the router. metrics may be nil, in which case /metrics is not mounted.
func New(p *pipeline.Pipeline, metrics *observability.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		pipeline: p,
		metrics:  metrics,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Single-analyst dashboard served from anywhere on the local network.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(gzipMiddleware)

		r.Get("/wide", s.handleWide)
		r.Get("/long", s.handleLong)
		r.Get("/ranking", s.handleRanking)
		r.Get("/heatmap", s.handleHeatmap)
		r.Get("/meta", s.handleMeta)
		r.Get("/quality", s.handleQuality)
		r.Post("/cache/invalidate", s.handleInvalidate)
	})

	r.Get("/ws/ranking", s.handleRankingFeed)
	return r
}

func gzipMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// instrument logs and counts every request under its route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ctx := logging.WithField(r.Context(), s.log, "request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTP(route, r.Method, status, elapsed)
		logging.FromContext(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("request")
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	s.log.Info().Msg("http server stopped")
	return nil
}
