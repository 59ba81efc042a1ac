package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Poller periodically enumerates enabled (source, thread) pairs from the
// catalog and enqueues one ingestion job per thread, per spec §4.9.
type Poller struct {
	catalog  Catalog
	queue    IngestEnqueuer
	cron     *cron.Cron
	interval string // cron spec, e.g. "@every 600s"
	logger   *slog.Logger
}

// NewPoller builds a Poller that fires on intervalSpec (a robfig/cron
// expression, typically "@every <duration>" built from
// ingest_poll_interval_ms).
func NewPoller(catalog Catalog, queue IngestEnqueuer, intervalSpec string, logger *slog.Logger) *Poller {
	return &Poller{
		catalog:  catalog,
		queue:    queue,
		cron:     cron.New(),
		interval: intervalSpec,
		logger:   logger.With("component", "poller"),
	}
}

// Start registers the repeating poll job and starts the cron scheduler.
func (p *Poller) Start(ctx context.Context) error {
	_, err := p.cron.AddFunc(p.interval, func() {
		if err := p.PollAll(ctx); err != nil {
			p.logger.Error("poll cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register poll schedule %q: %w", p.interval, err)
	}
	p.cron.Start()
	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight poll to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

// PollAll enumerates every enabled (source, thread) pair and enqueues one
// ingestion job per thread, with priority = 10 - thread.priority.
func (p *Poller) PollAll(ctx context.Context) error {
	entries, err := p.catalog.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("list enabled threads: %w", err)
	}

	p.logger.Info("poll cycle starting", "thread_count", len(entries))
	for _, entry := range entries {
		priority := 10 - entry.Thread.Priority
		if _, err := p.queue.EnqueueIngest(entry, priority, 0, false); err != nil {
			p.logger.Error("failed to enqueue ingestion job", "thread_id", entry.Thread.ID, "error", err)
		}
	}
	return nil
}

// TriggerOne enqueues a single thread's ingestion job with the highest
// priority, for a manual per-thread trigger.
func (p *Poller) TriggerOne(ctx context.Context, threadID string) error {
	entry, err := p.catalog.Get(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if _, err := p.queue.EnqueueIngest(entry, 0, 0, false); err != nil {
		return fmt.Errorf("enqueue manual trigger for thread %s: %w", threadID, err)
	}
	return nil
}
