package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/app"
	"github.com/callanalyzer/tenantconfig/internal/auth"
	"github.com/callanalyzer/tenantconfig/internal/config"
	"github.com/callanalyzer/tenantconfig/internal/httpserver"
	"github.com/callanalyzer/tenantconfig/internal/logging"
	"github.com/callanalyzer/tenantconfig/internal/version"
)

const maxLogBytes = int64(300 * 1024 * 1024)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	var sink io.Writer
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		defer rot.Close()
		sink = rot
	}
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, "configd", sink)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("configd stopped", zap.Error(err))
	}
}

func run(cfg config.ServiceConfig, logger *zap.Logger) error {
	ctx := context.Background()
	logger.Info("starting configd",
		zap.String("version", version.FullInfo()),
		zap.String("environment", cfg.Environment))

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var authManager *auth.Manager
	if !cfg.AuthDisabled {
		authManager = auth.NewManager(cfg.AuthSecret)
	} else {
		logger.Warn("authorization disabled: tenants are taken from the X-User-ID header")
	}

	httpSrv := httpserver.New(httpserver.Config{
		Store:        a.Store,
		Auth:         authManager,
		AuthDisabled: cfg.AuthDisabled,
		Hooks:        a.Hooks,
		Health:       a.Health,
		Logger:       logger,
		Location:     cfg.Location,
		RateLimit:    cfg.RateLimitPerMinute,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      httpSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("configd listening", zap.String("addr", cfg.HTTPAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	select {
	case sig := <-sigs:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
