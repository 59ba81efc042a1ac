// Package scheduler implements the poller, durable job queue, and worker
// pool (C9): periodic enumeration of enabled (source, thread) pairs, job
// dispatch with retries and catch-up resumption, and admin-facing
// pause/resume/trigger/stats controls.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Config mirrors spec §4.9's scheduler tunables.
type Config struct {
	RedisURL          string        `mapstructure:"redis_url"         yaml:"redis_url"`
	PollInterval      time.Duration `mapstructure:"poll_interval"      yaml:"poll_interval"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
}

// DefaultConfig returns spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      600 * time.Second,
		WorkerConcurrency: 5,
	}
}

// Scheduler composes the Poller, the asynq-backed QueueClient/server, and
// the job Worker into one process-lifecycle unit.
type Scheduler struct {
	cfg     Config
	queue   *QueueClient
	catalog Catalog
	poller  *Poller
	worker  *Worker
	server  *asynq.Server
	logger  *slog.Logger
}

// New wires the scheduler's components. worker must already be built with
// its own ScanRunner and registries (see NewWorker).
func New(cfg Config, catalog Catalog, worker *Worker, logger *slog.Logger) (*Scheduler, error) {
	queue, err := NewQueueClient(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("build queue client: %w", err)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	connOpt := asynq.RedisClientOpt{Addr: opt.Addr, Username: opt.Username, Password: opt.Password, DB: opt.DB}

	server := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			QueueIngestionHigh:   6,
			QueueIngestionNormal: 3,
			QueueIngestionLow:    1,
			QueueScheduler:       1,
		},
		RetryDelayFunc: retryDelay,
	})

	intervalSpec := fmt.Sprintf("@every %s", cfg.PollInterval)
	poller := NewPoller(catalog, queue, intervalSpec, logger)

	return &Scheduler{
		cfg:     cfg,
		queue:   queue,
		catalog: catalog,
		poller:  poller,
		worker:  worker,
		server:  server,
		logger:  logger.With("component", "scheduler"),
	}, nil
}

// Start launches the worker pool and the poller's cron schedule.
func (s *Scheduler) Start(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeIngest, s.worker.ProcessTask)

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := s.poller.Start(ctx); err != nil {
		s.server.Stop()
		return fmt.Errorf("start poller: %w", err)
	}
	s.logger.Info("scheduler started", "poll_interval", s.cfg.PollInterval, "workers", s.cfg.WorkerConcurrency)
	return nil
}

// Shutdown gracefully stops the poller and the worker pool, letting
// in-flight jobs finish, then closes the queue connections.
func (s *Scheduler) Shutdown() {
	s.logger.Info("scheduler shutting down")
	s.poller.Stop()
	s.server.Shutdown()
	if err := s.queue.Close(); err != nil {
		s.logger.Error("error closing queue connections", "error", err)
	}
}

// TriggerAll enqueues an immediate poll-all cycle.
func (s *Scheduler) TriggerAll(ctx context.Context) error {
	return s.poller.PollAll(ctx)
}

// TriggerOne enqueues a single thread's ingestion job at the highest
// priority.
func (s *Scheduler) TriggerOne(ctx context.Context, threadID string) error {
	return s.poller.TriggerOne(ctx, threadID)
}

// Pause stops the ingestion queues from dispatching new jobs.
func (s *Scheduler) Pause() error {
	return s.queue.Pause()
}

// Resume re-enables dispatch on the ingestion queues.
func (s *Scheduler) Resume() error {
	return s.queue.Resume()
}

// Stats reports current queue depth/activity for the admin surface.
func (s *Scheduler) Stats() (QueueStats, error) {
	return s.queue.Stats()
}
