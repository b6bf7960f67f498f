// Package stream serves live telemetry and pointing updates over Server-Sent
// Events. Clients connect to GET /api/v1/stream.
//
// The first message on every connection describes the current history:
//
//	data: {"type":"metadata","records":120,"history_age_seconds":42,...}\n\n
//
// After that an update is sent each time a poll cycle publishes a new history
// snapshot or pointing status:
//
//	data: {"type":"update","records":121,"latest":{...},"pointing":{...}}\n\n
//
// Keep-alive comments (:\n\n) are sent when nothing else has been written for
// KeepaliveInterval.
package stream

import (
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/star/aprstrack/internal/httputil"
	"github.com/star/aprstrack/internal/metrics"
	"github.com/star/aprstrack/internal/pointing"
	"github.com/star/aprstrack/internal/poller"
	"github.com/star/aprstrack/internal/telemetry"
)

// Config holds streaming limits and intervals.
type Config struct {
	MaxConcurrentPerIP int
	MaxConcurrent      int
	KeepaliveInterval  time.Duration
	CheckInterval      time.Duration // how often the handler looks for new data
	TrustProxy         bool
}

// DefaultConfig returns the stream settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		MaxConcurrent:      1000,
		KeepaliveInterval:  30 * time.Second,
		CheckInterval:      time.Second,
	}
}

// StatusSource provides the latest published pointing status.
type StatusSource interface {
	Status() *poller.Status
}

// Handler manages SSE connections.
type Handler struct {
	store   *telemetry.Store
	status  StatusSource
	config  Config
	limiter *limiter
	logger  *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a streaming handler. Zero config fields take defaults.
func NewHandler(store *telemetry.Store, status StatusSource, cfg Config, logger *slog.Logger) *Handler {
	def := DefaultConfig()
	if cfg.MaxConcurrentPerIP <= 0 {
		cfg.MaxConcurrentPerIP = def.MaxConcurrentPerIP
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	return &Handler{
		store:   store,
		status:  status,
		config:  cfg,
		limiter: newLimiter(cfg.MaxConcurrentPerIP, cfg.MaxConcurrent),
		logger:  logger.With("component", "stream"),
		done:    make(chan struct{}),
	}
}

// Close ends every open stream. Connections accepted afterwards end right
// after their opening messages. Safe to call more than once.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

type metadataMessage struct {
	Type       string            `json:"type"`
	Records    int               `json:"records"`
	HistoryAge int               `json:"history_age_seconds"`
	Observer   pointing.Geodetic `json:"observer"`
}

type updateMessage struct {
	Type      string                                `json:"type"`
	UpdatedAt string                                `json:"updated_at"`
	Records   int                                   `json:"records"`
	Latest    map[telemetry.Source]telemetry.Record `json:"latest"`
	Pointing  *poller.Status                        `json:"pointing"`
}

// ServeHTTP streams updates until the client disconnects or Close is called.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded", "remote_ip", ip, "current_count", h.limiter.count(ip))
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()
	start := time.Now()
	h.logger.Info("stream connected", "remote_ip", ip, "user_agent", r.Header.Get("User-Agent"))

	defer func() {
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected", "remote_ip", ip, "duration_seconds", int(time.Since(start).Seconds()))
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}
	c := &client{w: w, flusher: flusher, rc: rc, logger: h.logger}

	// Jittered reconnect delay so clients do not return in lockstep after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.Intn(4000))
	flusher.Flush()

	snap := h.store.Get()
	st := h.status.Status()
	if err := c.sendJSON(metadataMessage{
		Type:       "metadata",
		Records:    len(snap.Records),
		HistoryAge: int(h.store.AgeSeconds()),
		Observer:   st.Observer,
	}); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}
	if len(snap.Records) > 0 {
		if err := c.sendJSON(buildUpdate(snap, st)); err != nil {
			metrics.IncStreamErrors("send_error")
			return
		}
	}

	check := time.NewTicker(h.config.CheckInterval)
	defer check.Stop()
	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-h.done:
			h.logger.Debug("stream closed by server", "remote_ip", ip)
			return

		case <-check.C:
			nextSnap, nextSt := h.store.Get(), h.status.Status()
			if nextSnap == snap && nextSt == st {
				continue
			}
			snap, st = nextSnap, nextSt
			if err := c.sendJSON(buildUpdate(snap, st)); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// buildUpdate collects the newest record of each source with the pointing status.
func buildUpdate(snap *telemetry.Snapshot, st *poller.Status) updateMessage {
	latest := make(map[telemetry.Source]telemetry.Record, 2)
	for _, src := range []telemetry.Source{telemetry.SourceLight, telemetry.SourceEagle} {
		if rec, ok := telemetry.Latest(telemetry.FilterSource(snap.Records, src)); ok {
			latest[src] = rec
		}
	}
	return updateMessage{
		Type:      "update",
		UpdatedAt: snap.UpdatedAt.UTC().Format(time.RFC3339),
		Records:   len(snap.Records),
		Latest:    latest,
		Pointing:  st,
	}
}
