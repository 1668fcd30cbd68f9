package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	engineconfig "stablevault/config"
	"stablevault/observability/logging"
	telemetry "stablevault/observability/otel"
	"stablevault/services/dscd/config"
	"stablevault/services/dscd/middleware"
	"stablevault/services/dscd/node"
	"stablevault/services/dscd/server"
	"stablevault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/dscd/config.yaml", "path to dscd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		log.Fatalf("dscd: %v", err)
	}
}

// run owns every resource of the daemon so deferred cleanup happens before
// the process exits.
func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var logOutput io.Writer = os.Stdout
	if cfg.Log.File != "" {
		rotating := logging.RotatingFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups, cfg.Log.MaxAgeDays)
		defer rotating.Close()
		logOutput = io.MultiWriter(os.Stdout, rotating)
	}
	logger := logging.Setup(cfg.Observability.ServiceName, cfg.Environment,
		logging.WithLevel(logging.ParseLevel(cfg.Log.Level)),
		logging.WithWriter(logOutput),
	)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Observability.Endpoint,
		Insecure:    cfg.Observability.Insecure,
		Headers:     cfg.Observability.Headers,
		Metrics:     cfg.Observability.Metrics && cfg.Observability.Endpoint != "",
		Traces:      cfg.Observability.Tracing,
		SampleRatio: cfg.Observability.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	engineCfg, err := engineconfig.Load(cfg.EngineConfig)
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}
	rt, err := engineCfg.Runtime()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	db, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	n, err := node.New(rt, db, node.Options{Logger: logger, EventBuffer: cfg.EventBuffer})
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ScopeClaim: cfg.Auth.ScopeClaim,
		ClockSkew:  cfg.Auth.ClockSkew,
	}, logger)
	if cfg.Auth.Enabled && cfg.Auth.ReplayProtection {
		replayPath := ""
		if cfg.Storage == config.StorageLevelDB {
			replayPath = filepath.Join(cfg.DataDir, "replay")
		}
		store, err := middleware.NewLevelDBReplayStore(replayPath)
		if err != nil {
			return fmt.Errorf("open replay store: %w", err)
		}
		defer store.Close()
		auth.SetReplayStore(store)
		go middleware.RunPruner(ctx, store, cfg.Auth.ReplayWindow, time.Minute, time.Now)
	}

	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"read": {
			RequestsPerMinute: cfg.RateLimits.Read.RequestsPerMinute,
			Burst:             cfg.RateLimits.Read.Burst,
		},
		"write": {
			RequestsPerMinute: cfg.RateLimits.Write.RequestsPerMinute,
			Burst:             cfg.RateLimits.Write.Burst,
		},
	}, logger)

	handler := server.New(server.Config{
		Node:          n,
		Logger:        logger,
		Authenticator: auth,
		RateLimiter:   limiter,
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			LogRequests: cfg.Observability.LogRequests,
			Metrics:     cfg.Observability.Metrics,
		}, logger),
		CORS: middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("dscd listening", "addr", cfg.ListenAddress, "storage", cfg.Storage, "auth", cfg.Auth.Enabled)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			_ = srv.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
	}
	return nil
}

func openStorage(cfg config.Config) (storage.Database, error) {
	if cfg.Storage == config.StorageMemory {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, err
	}
	return db, nil
}
