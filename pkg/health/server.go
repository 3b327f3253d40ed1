package health

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server is the ambient observability HTTP surface: it serves /healthz and
// /metrics only, never email/task/chain data (spec.md §1(a) excludes a
// business-facing HTTP/RPC facade; this mux is not that facade).
type Server struct {
	server *http.Server
	log    *logrus.Logger
}

// NewServer builds a chi mux bound to addr (":8080"-style), grounded on the
// teacher's pkg/metrics.NewServer(port, logger) constructor shape.
func NewServer(addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		server: &http.Server{Addr: addr, Handler: r},
		log:    logger,
	}
}

func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			logger.WithFields(logrus.Fields{
				"path":       normalizePath(req.URL.Path),
				"method":     req.Method,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Debug("health mux request")
		})
	}
}

// StartAsync starts the server in a background goroutine; bind errors are
// logged, not returned, matching the teacher's fire-and-forget shape since
// the caller observes failures via /healthz rather than a start error.
func (s *Server) StartAsync() {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("health server exited")
		}
	}()
}

// Stop gracefully shuts the server down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
