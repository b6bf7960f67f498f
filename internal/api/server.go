package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/aprstrack/internal/auth"
	"github.com/star/aprstrack/internal/health"
	"github.com/star/aprstrack/internal/httputil"
	"github.com/star/aprstrack/internal/metrics"
	"github.com/star/aprstrack/internal/poller"
	"github.com/star/aprstrack/internal/stream"
	"github.com/star/aprstrack/internal/telemetry"
)

// Poller is the part of the poll loop the API reads and nudges.
type Poller interface {
	Status() *poller.Status
	Trigger() bool
}

// Options configures the HTTP server.
type Options struct {
	Addr       string
	TrustProxy bool
	Auth       auth.Config
	Stream     stream.Config
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(opts Options, logger *slog.Logger, store *telemetry.Store, p Poller) *Server {
	handler, streams := newHandler(opts, logger, store, p, time.Now)
	httpServer := &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown does not cancel request contexts; open streams must be told to end.
	httpServer.RegisterOnShutdown(streams.Close)

	return &Server{
		httpServer: httpServer,
		logger:     logger,
	}
}

func newHandler(opts Options, logger *slog.Logger, store *telemetry.Store, p Poller, now func() time.Time) (http.Handler, *stream.Handler) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool { return store.Len() > 0 }))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/telemetry/latest", latestHandler(store))
	mux.HandleFunc("GET /api/v1/telemetry/history", historyHandler(store, now))
	mux.HandleFunc("GET /api/v1/pointing", pointingHandler(p))
	mux.HandleFunc("POST /api/v1/poll", pollHandler(logger, p))

	streamCfg := opts.Stream
	streamCfg.TrustProxy = opts.TrustProxy
	streams := stream.NewHandler(store, p, streamCfg, logger)
	mux.Handle("GET /api/v1/stream", streams)

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(opts.Auth)(handler)
	handler = loggingMiddleware(logger, opts.TrustProxy)(handler)
	handler = metrics.Middleware(handler)
	return handler, streams
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// healthPath reports whether path is a health or readiness check that should not log at INFO.
func healthPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if healthPath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
