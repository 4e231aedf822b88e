// Package server assembles the HTTP surface: the REST handlers, the chat
// websocket, health probes, and the metrics listener.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grantwell/internal/chat"
	commonaws "grantwell/internal/common/aws"
	"grantwell/internal/common/config"
	"grantwell/internal/common/logger"
)

// Registrar is a handler that mounts its own routes.
type Registrar interface {
	Register(r chi.Router)
}

// Handlers carries the fully wired request handlers. Nil entries are left
// unmounted, so partial deployments (ingest-only hosts) can share the router.
type Handlers struct {
	Session    http.Handler
	Draft      http.Handler
	ChatSocket http.Handler

	Feedback  Registrar
	Knowledge Registrar
	Catalog   Registrar
}

// Server is the public HTTP listener plus a separate metrics listener.
type Server struct {
	http    *http.Server
	metrics *http.Server
	logger  logger.Logger
}

func New(cfg config.ServerConfig, handlers Handlers, log logger.Logger) *Server {
	router := NewRouter(handlers, log)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		metrics: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// NewRouter mounts every non-nil handler on a fresh chi router.
func NewRouter(handlers Handlers, log logger.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if handlers.Session != nil {
		r.Method(http.MethodPost, "/sessions", handlers.Session)
	}
	if handlers.Draft != nil {
		r.Method(http.MethodPost, "/drafts", handlers.Draft)
	}
	if handlers.ChatSocket != nil {
		r.Handle("/ws/chat", handlers.ChatSocket)
	}
	for _, reg := range []Registrar{handlers.Feedback, handlers.Knowledge, handlers.Catalog} {
		if reg != nil {
			reg.Register(r)
		}
	}
	return r
}

// Start runs both listeners until one fails or the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("http server listening", map[string]interface{}{"addr": s.http.Addr})
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		s.logger.Info("metrics server listening", map[string]interface{}{"addr": s.metrics.Addr})
		if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests on both listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.metrics.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Warn("metrics server shutdown", nil)
	}
	return s.http.Shutdown(ctx)
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("request", map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start).String(),
			})
		})
	}
}

// BedrockStreamOpener bridges the Bedrock client's concrete stream type to
// the chat handler's stream interface.
type BedrockStreamOpener struct {
	Client *commonaws.BedrockClient
}

func (o *BedrockStreamOpener) OpenStream(ctx context.Context, modelID string, payload []byte) (chat.ChunkStream, error) {
	return o.Client.OpenStream(ctx, modelID, payload)
}
