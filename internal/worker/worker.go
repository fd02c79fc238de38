package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Worker polls the pipeline on a fixed interval
type Worker struct {
	id        string
	processor *Processor
	interval  time.Duration
	batchSize int
	cron      *cron.Cron
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a new worker instance
func New(processor *Processor, interval time.Duration, batchSize int, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	cronLog := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelWarn))

	return &Worker{
		id:        workerID,
		processor: processor,
		interval:  interval,
		batchSize: batchSize,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		log:    log.With("worker_id", workerID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the worker id
func (w *Worker) ID() string {
	return w.id
}

// Start schedules the poll and returns immediately
func (w *Worker) Start() error {
	spec := fmt.Sprintf("@every %s", w.interval)
	if _, err := w.cron.AddFunc(spec, w.poll); err != nil {
		return fmt.Errorf("failed to schedule poll %q: %w", spec, err)
	}
	w.cron.Start()
	w.log.Info("Worker started", "interval", w.interval, "batch_size", w.batchSize)
	return nil
}

// Stop cancels the running pass and waits for it to return or for ctx
// to expire
func (w *Worker) Stop(ctx context.Context) error {
	w.log.Info("Worker stop requested")
	w.cancel()
	done := w.cron.Stop()

	select {
	case <-done.Done():
		w.log.Info("Worker stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker did not stop in time: %w", ctx.Err())
	}
}

// poll drains up to one batch of pending messages
func (w *Worker) poll() {
	if w.ctx.Err() != nil {
		return
	}

	res := w.processor.ProcessBatch(w.ctx, w.batchSize)
	if res.Processed == 0 && len(res.Errors) == 0 {
		return
	}
	if len(res.Errors) > 0 {
		w.log.Warn("Poll finished with errors",
			"processed", res.Processed,
			"failed", res.Failed,
			"errors", res.Errors)
		return
	}
	w.log.Debug("Poll finished", "processed", res.Processed, "succeeded", res.Succeeded)
}
