// Package app wires the pipeline from configuration. The worker, the API
// and pbemctl all build the same graph.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jwebster45206/pbem-engine/internal/assembler"
	"github.com/jwebster45206/pbem-engine/internal/commit"
	"github.com/jwebster45206/pbem-engine/internal/config"
	"github.com/jwebster45206/pbem-engine/internal/lock"
	"github.com/jwebster45206/pbem-engine/internal/services"
	"github.com/jwebster45206/pbem-engine/internal/services/events"
	"github.com/jwebster45206/pbem-engine/internal/storage/sqlite"
	"github.com/jwebster45206/pbem-engine/internal/summarize"
	"github.com/jwebster45206/pbem-engine/internal/turns"
	"github.com/jwebster45206/pbem-engine/internal/worker"
	"github.com/jwebster45206/pbem-engine/pkg/initiative"
	"github.com/redis/go-redis/v9"
)

// App is the assembled pipeline and the connections it owns
type App struct {
	Store     *sqlite.Store
	Redis     *services.RedisService // nil when REDIS_URL is unset
	LLM       services.LLMService
	Processor *worker.Processor

	log *slog.Logger
}

// OpenStore opens the database and applies pending migrations
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sqlite.Store, error) {
	store, err := sqlite.Open(ctx, cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info("Database ready", "path", cfg.DatabasePath)
	return store, nil
}

// Build opens every dependency and assembles the processor
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{log: log}

	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if cfg.RedisURL != "" {
		rs, err := services.NewRedisService(cfg.RedisURL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rs

		waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := rs.WaitForConnection(waitCtx); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		log.Info("REDIS_URL not set, running without distributed lock and events")
	}

	llm, err := services.NewFromConfig(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.LLM = llm

	strategy, err := initiative.New(cfg.Initiative, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := worker.Deps{
		Store: store,
		Assembler: assembler.New(store,
			summarize.New(llm, cfg.Summary.MaxChars, log),
			assembler.ThresholdsFromConfig(cfg.Summary), log),
		LLM:       llm,
		Turns:     turns.New(strategy, log),
		Committer: commit.New(store, cfg.NarratorAddress, cfg.MailDomain, log),
	}
	if a.Redis != nil {
		client := a.Redis.GetClient()
		deps.Events = events.NewBroadcaster(client, log)
		deps.Lock = lock.NewRedisLock(client, lock.DefaultKey, cfg.LockTTL, log)
	}

	a.Processor = worker.NewProcessor(deps, worker.OptionsFromConfig(cfg), log)
	return a, nil
}

// RedisClient returns the shared client or nil
func (a *App) RedisClient() *redis.Client {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.GetClient()
}

// Close releases the database and Redis connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
