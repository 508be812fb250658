package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"scribe-backend/infrastructure/config"
	"scribe-backend/infrastructure/di"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	logger := container.Logger

	// Background lifecycle: deadline scheduler, dispatch pool, job sweep,
	// buffer flush loop, and policy hot-reload
	container.Scheduler.Start(ctx)
	container.WorkerPool.Start(ctx, container.DomainConfig.DispatchWorkers)
	container.JobRegistry.Start(ctx)
	container.SessionManager.Start(ctx)
	if err := container.PolicyStore.Watch(); err != nil {
		logger.Warn("Policy hot-reload disabled", zap.Error(err))
	}

	handler := container.Router.Setup()

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	// Stop ingestion first: remaining sessions finalize and dispatch their
	// extraction work before the pool and registry drain.
	container.SessionManager.Stop(shutdownCtx)
	container.Scheduler.Stop()
	container.WorkerPool.Stop()
	container.JobRegistry.Stop()
	container.PolicyStore.Stop()

	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}
