package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portal-backend/internal/api"
	"portal-backend/internal/app"
	"portal-backend/internal/config"
	"portal-backend/internal/logging"
	"portal-backend/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	// Initialize configuration
	cfg := config.New()

	logger, closeLog := logging.SetupLogger(cfg.Log.File, logging.ParseLevel(cfg.Log.Level))
	defer closeLog()
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Debug("No .env file found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	backend, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to start backend", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	feedErr := make(chan error, 1)
	go func() { feedErr <- backend.Run(ctx) }()

	select {
	case <-backend.Ready():
	case err := <-feedErr:
		logger.Error("change feed failed", "error", err)
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Error("change feed not ready in time")
		os.Exit(1)
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))

	// Setup API routes
	api.SetupRoutes(router, api.Dependencies{
		Config:    cfg,
		Chat:      backend.Chat,
		Feed:      backend.Hub,
		Verifier:  backend.Verifier,
		Directory: backend.Store,
		Supabase:  backend.Supabase,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Feed streams take the request context, so shutdown reaches them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port, "demo_mode", cfg.DemoMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}
