package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains in-process worker configuration.
type WorkerConfig struct {
	PollInterval time.Duration
	// Retention is how long sent rows are kept. Zero disables purging.
	Retention time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: time.Minute,
	}
}

// PassRunner runs one queue processing pass.
type PassRunner interface {
	ProcessQueuedNotifications(ctx context.Context) (ProcessResult, error)
}

// Worker triggers processing passes on a fixed interval. It is one of
// several possible triggers and holds no state a pass depends on.
type Worker struct {
	config WorkerConfig
	runner PassRunner
	repo   QueueRepository

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new notification worker.
func NewWorker(config WorkerConfig, runner PassRunner, repo QueueRepository) *Worker {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWorkerConfig().PollInterval
	}
	return &Worker{
		config: config,
		runner: runner,
		repo:   repo,
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting notification worker",
		"poll_interval", w.config.PollInterval,
		"retention", w.config.Retention,
	)

	w.wg.Add(1)
	go w.run(ctx)
}

// Stop waits for the running pass, if any, to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
	slog.Info("notification worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if _, err := w.runner.ProcessQueuedNotifications(ctx); err != nil {
		slog.Error("notification pass failed", "error", err)
	}

	if w.config.Retention > 0 {
		w.purge(ctx)
	}
}

func (w *Worker) purge(ctx context.Context) {
	before := time.Now().Add(-w.config.Retention)
	deleted, err := w.repo.PurgeSentOlderThan(ctx, before)
	if err != nil {
		slog.Error("failed to purge sent notifications", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("purged sent notifications", "count", deleted, "before", before)
	}
}
