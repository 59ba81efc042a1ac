// Package ingestsdk provides a public SDK for embedding the ingestion
// engine's scan algorithm as a library, without a Postgres/Redis/asynq
// deployment behind it.
//
// Example usage:
//
//	ingestor := ingestsdk.New(
//	    ingestsdk.WithMaxPagesPerRun(5),
//	    ingestsdk.WithRateLimit(30, 5),
//	)
//
//	ingestor.OnItem(func(item *types.ScrapedItem) {
//	    fmt.Println(item.Title, item.MediaURL)
//	})
//
//	source := &types.Source{ID: "my-source", AdapterKind: types.AdapterGenericHTML, HTMLConfig: &cfg}
//	thread := &types.Thread{ID: "my-thread", SourceID: "my-source", URL: "https://example.com/page"}
//	run, err := ingestor.Run(context.Background(), source, thread)
package ingestsdk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ingestd/mediaforge/internal/adapter"
	"github.com/ingestd/mediaforge/internal/breaker"
	"github.com/ingestd/mediaforge/internal/concurrency"
	"github.com/ingestd/mediaforge/internal/persist"
	"github.com/ingestd/mediaforge/internal/ratelimit"
	"github.com/ingestd/mediaforge/internal/scan"
	"github.com/ingestd/mediaforge/internal/types"
)

// ItemCallback is invoked once per newly committed item.
type ItemCallback func(item *types.ScrapedItem)

// Ingestor is the high-level API for using the engine as a library.
type Ingestor struct {
	cfg       scan.Config
	rateLimit types.RateLimitConfig
	logger    *slog.Logger

	checkpoints *memCheckpointStore
	persistence *callbackPersister
	breakers    *breaker.Registry
	limiters    *ratelimit.Registry
	concurrency *concurrency.Limiter
	scanner     *scan.Scanner
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithMaxPagesPerRun caps how many pages a single Run walks before a
// catch-up cursor is saved.
func WithMaxPagesPerRun(n int) Option {
	return func(i *Ingestor) { i.cfg.MaxPagesPerRun = n }
}

// WithMaxItemsPerRun caps how many items a single Run commits before a
// catch-up cursor is saved.
func WithMaxItemsPerRun(n int) Option {
	return func(i *Ingestor) { i.cfg.MaxItemsPerRun = n }
}

// WithScanTimeout bounds how long a single Run may take before it saves a
// timeout catch-up cursor and returns.
func WithScanTimeout(d time.Duration) Option {
	return func(i *Ingestor) { i.cfg.ScanTimeout = d }
}

// WithRateLimit sets the token-bucket rate applied to every source this
// Ingestor scans, in requests per minute with the given burst size.
func WithRateLimit(requestsPerMinute float64, burst int) Option {
	return func(i *Ingestor) {
		i.rateLimit = types.RateLimitConfig{RequestsPerMinute: requestsPerMinute, BurstSize: burst}
	}
}

// WithConcurrency caps how many adapter fetches may be in flight at once
// across all sources sharing this Ingestor. 0 (the default) uses the
// concurrency limiter's default cap of 10.
func WithConcurrency(n int) Option {
	return func(i *Ingestor) { i.concurrency = concurrency.New(n, i.logger) }
}

// WithLogger overrides the default stderr text logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Ingestor) { i.logger = logger }
}

// New builds an Ingestor with the given options.
func New(opts ...Option) *Ingestor {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	i := &Ingestor{
		cfg:         scan.DefaultConfig(),
		rateLimit:   types.RateLimitConfig{RequestsPerMinute: 60, BurstSize: 10},
		logger:      logger,
		checkpoints: newMemCheckpointStore(),
		persistence: newCallbackPersister(),
		breakers:    breaker.NewRegistry(breaker.DefaultConfig(), logger),
		limiters:    ratelimit.NewRegistry(logger),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.concurrency == nil {
		i.concurrency = concurrency.New(0, i.logger)
	}

	i.scanner = scan.New(i.checkpoints, i.persistence, i.breakers, i.limiters, i.concurrency, i.cfg, i.logger)
	return i
}

// OnItem registers a callback fired once per item committed during any Run.
// Replaces any previously registered callback.
func (i *Ingestor) OnItem(cb ItemCallback) {
	i.persistence.setCallback(cb)
}

// Run executes one scan of thread over source, applying source.RateLimit
// (or this Ingestor's WithRateLimit default when it is zero) and dispatching
// through the adapter registered for source.AdapterKind (see adapter.Factory).
//
// Checkpoint and catch-up state live only in this Ingestor's memory, keyed
// by thread.ID; calling Run again with the same thread resumes from the
// previous call's checkpoint the way the engine's scheduler would resume
// across restarts, except the state doesn't survive process exit.
func (i *Ingestor) Run(ctx context.Context, source *types.Source, thread *types.Thread) (*types.IngestRun, error) {
	a, err := adapter.Factory(source)
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}
	return i.RunWithAdapter(ctx, source, thread, a)
}

// RunWithAdapter is Run with a caller-supplied adapter.Adapter, bypassing
// adapter.Factory's AdapterKind dispatch. Intended for embedders that scrape
// a source shape none of the built-in adapters cover.
//
// A source with a zero-value RateLimit gets this Ingestor's WithRateLimit
// default (60 req/min, burst 10, unless overridden); a source that already
// sets its own RateLimit is used as-is.
func (i *Ingestor) RunWithAdapter(ctx context.Context, source *types.Source, thread *types.Thread, a adapter.Adapter) (*types.IngestRun, error) {
	if source.RateLimit == (types.RateLimitConfig{}) {
		withDefault := *source
		withDefault.RateLimit = i.rateLimit
		source = &withDefault
	}
	return i.scanner.Run(ctx, source, thread, a)
}

// Checkpoint returns the current in-memory checkpoint for a thread, or an
// empty checkpoint (never nil) if Run has never been called for it.
func (i *Ingestor) Checkpoint(threadID string) *types.Checkpoint {
	cp, _ := i.checkpoints.Get(context.Background(), threadID)
	return cp
}

// BreakerState returns the current circuit breaker state for a source, or
// the empty string if no Run has touched it yet.
func (i *Ingestor) BreakerState(sourceID string) string {
	return i.breakers.Snapshot()[sourceID]
}

// memCheckpointStore is an in-process, non-persistent stand-in for
// *checkpoint.Store, letting Ingestor run without a Postgres connection.
type memCheckpointStore struct {
	mu   sync.Mutex
	byID map[string]*types.Checkpoint
}

func newMemCheckpointStore() *memCheckpointStore {
	return &memCheckpointStore{byID: make(map[string]*types.Checkpoint)}
}

func (m *memCheckpointStore) Get(_ context.Context, threadID string) (*types.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.byID[threadID]
	if !ok {
		return &types.Checkpoint{ThreadID: threadID}, nil
	}
	cpCopy := *cp
	return &cpCopy, nil
}

func (m *memCheckpointStore) UpdateSuccess(_ context.Context, threadID string, item *types.ScrapedItem, page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := m.get(threadID)
	cp.LastSeenItemID = item.ExternalID
	cp.LastSeenFingerprint = item.Fingerprint
	postedAt := item.PostedAt
	cp.LastSeenTimestamp = &postedAt
	cp.LastSeenPage = page
	cp.CatchUpCursor = nil
	cp.ConsecutiveFailures = 0
	return nil
}

func (m *memCheckpointStore) SaveCatchUp(_ context.Context, threadID string, cursor types.CatchUpCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(threadID).CatchUpCursor = &cursor
	return nil
}

func (m *memCheckpointStore) ClearCatchUp(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(threadID).CatchUpCursor = nil
	return nil
}

func (m *memCheckpointStore) UpdateFailure(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(threadID).ConsecutiveFailures++
	return nil
}

func (m *memCheckpointStore) ResetFailures(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(threadID).ConsecutiveFailures = 0
	return nil
}

func (m *memCheckpointStore) get(threadID string) *types.Checkpoint {
	cp, ok := m.byID[threadID]
	if !ok {
		cp = &types.Checkpoint{ThreadID: threadID}
		m.byID[threadID] = cp
	}
	return cp
}

// callbackPersister is an in-process stand-in for *persist.Store: instead
// of writing to Postgres it fires the caller's ItemCallback for every item,
// deduplicating within a single process run by external ID.
type callbackPersister struct {
	mu   sync.Mutex
	cb   ItemCallback
	seen map[string]bool
}

func newCallbackPersister() *callbackPersister {
	return &callbackPersister{seen: make(map[string]bool)}
}

func (c *callbackPersister) setCallback(cb ItemCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

func (c *callbackPersister) CommitItems(_ context.Context, threadID string, items []types.ScrapedItem) persist.Counters {
	c.mu.Lock()
	defer c.mu.Unlock()

	var counters persist.Counters
	for idx := range items {
		item := items[idx]
		key := threadID + "|" + item.ExternalID
		if c.seen[key] {
			counters.Duplicates++
			continue
		}
		c.seen[key] = true
		counters.Inserted++
		if c.cb != nil {
			c.cb(&item)
		}
	}
	return counters
}
