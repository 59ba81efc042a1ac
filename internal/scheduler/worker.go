package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ingestd/mediaforge/internal/adapter"
	"github.com/ingestd/mediaforge/internal/breaker"
	"github.com/ingestd/mediaforge/internal/concurrency"
	"github.com/ingestd/mediaforge/internal/ratelimit"
	"github.com/ingestd/mediaforge/internal/types"
)

// queueLimiterKey is the shared bucket id the queue-level limiter keys on;
// it isn't a source, just a fixed token-bucket shared by every job on the
// ingestion queue, per spec §4.9's "queue-level limiter caps at 10 jobs / 60s".
const queueLimiterKey = "scheduler:ingestion"

var queueLimiterConfig = types.RateLimitConfig{RequestsPerMinute: 10, BurstSize: 10}

// ScanRunner is the subset of *scan.Scanner the worker needs.
type ScanRunner interface {
	Run(ctx context.Context, source *types.Source, thread *types.Thread, a adapter.Adapter) (*types.IngestRun, error)
}

// Worker executes one ingestion job: queue-level rate limiting, adapter
// resolution, validation, the scanner run inside an outer
// circuit-breaker/concurrency guard, and a catch-up enqueue on PARTIAL, per
// spec §4.9's per-job execution steps.
type Worker struct {
	scanner      ScanRunner
	breakers     *breaker.Registry
	queueLimiter *ratelimit.Limiter
	concurrency  *concurrency.Limiter
	queue        CatchUpEnqueuer
	logger       *slog.Logger

	// resolveAdapter defaults to adapter.Factory; overridden in tests so a
	// job can run against a fake Adapter without a real source config.
	resolveAdapter func(*types.Source) (adapter.Adapter, error)
}

// NewWorker builds a Worker sharing the same breaker/concurrency registries
// as the Scanner, so the job-level breaker state is identical to the
// scanner's, plus its own queue-wide rate limiter.
func NewWorker(scanner ScanRunner, breakers *breaker.Registry, limiters *ratelimit.Registry, conc *concurrency.Limiter, queue CatchUpEnqueuer, logger *slog.Logger) *Worker {
	return &Worker{
		scanner:        scanner,
		breakers:       breakers,
		queueLimiter:   limiters.Get(queueLimiterKey, queueLimiterConfig),
		concurrency:    conc,
		queue:          queue,
		logger:         logger.With("component", "scheduler_worker"),
		resolveAdapter: adapter.Factory,
	}
}

// ProcessTask implements asynq.Handler via HandleFunc registration on the
// mux built in Scheduler.Start.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%w: decode ingest payload: %v", asynq.SkipRetry, err)
	}
	source, thread := &payload.Source, &payload.Thread

	logger := w.logger.With("thread_id", thread.ID, "source_id", source.ID, "is_catch_up", payload.IsCatchUp)

	if err := w.queueLimiter.Acquire(ctx); err != nil {
		return fmt.Errorf("queue limiter wait: %w", err)
	}

	b := w.breakers.Get(source.ID)
	if !b.IsAllowed() {
		logger.Warn("circuit open, skipping job", "status", "circuit_open")
		return nil
	}

	a, err := w.resolveAdapter(source)
	if err != nil {
		logger.Error("adapter resolution failed", "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err := a.Validate(ctx); err != nil {
		logger.Error("adapter validation failed", "error", err)
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	var run *types.IngestRun
	runErr := w.concurrency.Execute(ctx, func() error {
		return b.ExecuteContext(ctx, func() error {
			var err error
			run, err = w.scanner.Run(ctx, source, thread, a)
			return err
		})
	})
	if runErr != nil {
		var circuitErr *types.CircuitOpenError
		if errors.As(runErr, &circuitErr) {
			logger.Warn("circuit opened during run, skipping retry", "status", "circuit_open")
			return nil
		}
		logger.Error("scan run failed", "error", runErr)
		return runErr
	}

	logger.Info("scan run finished", "status", run.Status, "pages_scanned", run.PagesScanned, "items_new", run.ItemsNew)

	if run.Status == types.RunPartial {
		if _, err := w.queue.EnqueueCatchUp(ThreadEntry{Source: source, Thread: thread}, run.ID); err != nil {
			logger.Error("failed to enqueue catch-up job", "error", err)
		}
	}

	return nil
}
