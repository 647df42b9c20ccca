package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"canvas-backend/application/services"
	"canvas-backend/infrastructure/config"
	"canvas-backend/infrastructure/persistence/memory"
	"canvas-backend/interfaces/http/rest"
	ws "canvas-backend/interfaces/websocket"
	"canvas-backend/pkg/observability"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// Wire the store, hub and mutation core. The store is volatile: state
	// is rebuilt from zero on every process start.
	store := memory.NewStore()
	hub := ws.NewHub(metrics, logger)
	service := services.NewElementService(store, hub, metrics, logger, cfg.RoomID)
	wsServer := ws.NewServer(hub, service, nil, cfg.RoomID, logger)

	go hub.Run()

	// Create router
	router := rest.NewRouter(service, wsServer.HandleWebSocket, cfg, logger)
	handler := router.Setup()

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.ListenAddress(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server",
			zap.String("address", cfg.ListenAddress()),
			zap.String("environment", cfg.Environment),
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	hub.Stop()

	if err := logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
