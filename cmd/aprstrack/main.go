package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/aprstrack/internal/api"
	"github.com/star/aprstrack/internal/aprs"
	"github.com/star/aprstrack/internal/archive"
	"github.com/star/aprstrack/internal/auth"
	"github.com/star/aprstrack/internal/config"
	"github.com/star/aprstrack/internal/metrics"
	"github.com/star/aprstrack/internal/observability"
	"github.com/star/aprstrack/internal/pointing"
	"github.com/star/aprstrack/internal/poller"
	"github.com/star/aprstrack/internal/stream"
	"github.com/star/aprstrack/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("APRSTRACK_CONFIG"), "path to YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	store := telemetry.NewStore(telemetry.Retention{
		MaxRecords: cfg.History.MaxRecords,
		MaxAge:     cfg.History.MaxAge,
	})

	var arch *archive.Archive
	if cfg.History.ArchiveDir != "" {
		arch = archive.New(cfg.History.ArchiveDir, cfg.History.ArchiveFiles, logger)

		// Attempt to load archived history on startup.
		records, ts, err := arch.LoadLatest()
		if err != nil {
			logger.Info("no history archive found, starting empty", "error", err)
		} else {
			added := store.Merge(records, time.Now())
			metrics.RecordMerge(added, store.Len())
			logger.Info("loaded history from archive", "count", added, "archived_at", ts.Format(time.RFC3339))
		}
	}

	session, err := pointing.NewSession(pointing.Geodetic{
		LatDeg: cfg.Observer.Latitude,
		LonDeg: cfg.Observer.Longitude,
		AltM:   cfg.Observer.Elevation,
	})
	if err != nil {
		logger.Error("invalid observer", "error", err)
		os.Exit(1)
	}

	devices := make([]poller.Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		devices = append(devices, poller.Device{
			Name:     d.Name,
			Callsign: d.Callsign,
			Dialect:  telemetry.Dialect(d.Dialect),
		})
	}

	fetcher := aprs.NewFetcher(cfg.APRS.BaseURL, cfg.APRS.APIKey, cfg.APRS.Timeout, logger)
	if cfg.APRS.APIKey == "" {
		logger.Warn("APRSTRACK_APRS_API_KEY is empty, aprs.fi will reject requests")
	}

	p := poller.New(devices, fetcher, store, session, arch,
		poller.NewBackoff(cfg.Poll.BaseWait, cfg.Poll.MaxWait), logger)

	srv := api.NewServer(api.Options{
		Addr:       cfg.HTTP.Addr,
		TrustProxy: cfg.HTTP.TrustProxy,
		Auth:       auth.Config{Enabled: cfg.HTTP.AuthEnabled, Token: cfg.HTTP.AuthToken},
		Stream: stream.Config{
			MaxConcurrentPerIP: cfg.Stream.MaxConcurrentPerIP,
			MaxConcurrent:      cfg.Stream.MaxConcurrent,
			KeepaliveInterval:  cfg.Stream.KeepaliveInterval,
			CheckInterval:      cfg.Stream.CheckInterval,
		},
	}, logger, store, p)

	go p.Run(ctx)

	// Background goroutine to update the history age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetHistoryAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("starting server", "addr", cfg.HTTP.Addr, "auth_enabled", cfg.HTTP.AuthEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
