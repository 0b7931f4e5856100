package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/oodaa/signal-relay/internal/config"
	"github.com/oodaa/signal-relay/internal/httpserver"
	"github.com/oodaa/signal-relay/internal/metrics"
	"github.com/oodaa/signal-relay/internal/ratelimit"
	"github.com/oodaa/signal-relay/internal/relay"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting oodaa-signal-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"allowed_origins", cfg.AllowedOrigins,
		"admission_burst", cfg.AdmissionBurst,
		"admission_refill_window", cfg.AdmissionRefillWindow,
		"session_stale_timeout", cfg.SessionStaleTimeout,
		"reaper_interval", cfg.ReaperInterval,
		"max_message_bytes", cfg.MaxMessageBytes,
	)

	m := metrics.New()
	hub := relay.NewHub(logger, m, ratelimit.RealClock{})

	admission := ratelimit.NewAddressLimiter(
		ratelimit.RealClock{},
		cfg.AdmissionBurst,
		cfg.AdmissionBurst,
		cfg.AdmissionRefillWindow,
		cfg.AdmissionMaxTracked,
		func() { m.Inc(metrics.AddressBucketsEvicted) },
	)

	signalSrv := relay.NewServer(relay.ServerConfig{
		Hub:             hub,
		Admission:       admission,
		MaxMessageBytes: cfg.MaxMessageBytes,
		Logger:          logger,
	})

	srv := httpserver.New(cfg, logger, hub, signalSrv)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaper := relay.NewReaper(hub, cfg.ReaperInterval, cfg.SessionStaleTimeout, logger)
	go reaper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		hub.CloseAll()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Stop accepting, then tear down the live connections so every bound
	// identity gets its offline teardown before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	hub.CloseAll()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}
