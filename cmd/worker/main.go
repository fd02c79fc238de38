package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/app"
	"github.com/jwebster45206/pbem-engine/internal/config"
	"github.com/jwebster45206/pbem-engine/internal/logger"
	"github.com/jwebster45206/pbem-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting PBEM Worker",
		"environment", cfg.Environment,
		"database", cfg.DatabasePath,
		"llm_provider", cfg.LLMProvider,
		"poll_interval", cfg.PollInterval)

	initCtx, initCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	a, err := app.Build(initCtx, cfg, log)
	initCancel()
	if err != nil {
		log.Error("Failed to initialize pipeline", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Error closing connections", "error", err)
		}
	}()

	w := worker.New(a.Processor, cfg.PollInterval, cfg.BatchSize, log, cfg.WorkerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if err := w.Start(); err != nil {
		log.Error("Worker error", "error", err)
		os.Exit(1)
	}

	log.Info("Worker started, polling for messages...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")

	// Give the current batch time to finish
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := w.Stop(stopCtx); err != nil {
		log.Error("Worker did not stop cleanly", "error", err)
	}

	log.Info("Worker exited")
}
