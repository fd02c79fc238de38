package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/app"
	"github.com/jwebster45206/pbem-engine/internal/config"
	"github.com/jwebster45206/pbem-engine/internal/handlers"
	"github.com/jwebster45206/pbem-engine/internal/logger"
	"github.com/jwebster45206/pbem-engine/internal/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting PBEM API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName)

	initCtx, initCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	a, err := app.Build(initCtx, cfg, log)
	initCancel()
	if err != nil {
		log.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.NewHealthHandler(a.Store, a.RedisClient(), a.LLM, log))
	handlers.NewProcessHandler(a.Processor, cfg.BatchSize, log).Register(mux)
	if client := a.RedisClient(); client != nil {
		mux.Handle("GET /v1/events/campaigns/{id}", handlers.NewEventsHandler(client, log))
	}

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.Logger(log, mux),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout removed to enable streaming - the events endpoint holds connections open
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if err := a.Close(); err != nil {
		log.Error("Error closing connections", "error", err)
	}

	log.Info("Server exited")
}
