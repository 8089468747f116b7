/*
Package main is the entry point for the HZ Presence server.

It loads configuration, initializes the global logger and metrics, opens the shared
presence store, starts the presence instance and the HTTP server, and on SIGINT/SIGTERM
drains every socket before the HTTP server and the store are shut down.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"hzpresence/internal/app/presence"
	"hzpresence/internal/app/state"
	"hzpresence/internal/configs"
	"hzpresence/internal/handler"
	"hzpresence/internal/pkg/limiter"
	"hzpresence/internal/pkg/logx"
	"hzpresence/internal/pkg/metrics"
)

func main() {
	if err := configs.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("state_backend", cfg.StateBackend).
		Str("auth_mode", cfg.AuthMode).
		Msg("Configuration loaded successfully")

	metrics.MustRegister()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 10*time.Second)
	backends, err := state.Open(openCtx, cfg.StateConfig())
	cancelOpen()
	if err != nil {
		logx.Fatal(err, "Failed to open presence store", "backend", cfg.StateBackend)
	}

	opts := handler.PresenceOptions(cfg)
	if backends.Bus != nil {
		opts = append(opts, presence.WithBus(backends.Bus))
	}

	svc, err := presence.New(backends.Store, opts...)
	if err != nil {
		logx.Fatal(err, "Failed to start presence instance")
	}

	connectLimiter := limiter.NewIPRateLimiter(rate.Limit(handler.ConnectRate), handler.ConnectBurst, 0)
	defer connectLimiter.Stop()

	router := handler.Router(&handler.AppDeps{
		Presence:       svc,
		Config:         cfg,
		ConnectLimiter: connectLimiter,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("HZ Presence Server starting on http://localhost%s", serverAddr), "instance_uid", svc.InstanceUID())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := svc.Close(shutdownCtx); err != nil {
		logx.Error(err, "Presence drain finished with errors")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	if err := backends.Store.Close(); err != nil {
		logx.Error(err, "Failed to close presence store")
	}

	logx.Info("Server gracefully stopped.")
}
