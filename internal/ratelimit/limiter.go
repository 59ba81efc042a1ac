// Package ratelimit implements the per-source token bucket (C1): a bucket
// of bucket_size tokens refilled at refill_rate tokens/sec, with an optional
// crawl-delay bypass for sources that just want a fixed sleep between fetches.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ingestd/mediaforge/internal/types"
)

// Limiter is a single source's token bucket.
type Limiter struct {
	mu           sync.Mutex
	rl           *rate.Limiter
	bucketSize   int
	refillRate   float64
	crawlDelayMs int64
	lastFetch    time.Time
	logger       *slog.Logger
}

// New creates a Limiter from a source's rate-limit config.
//
// If only requests-per-minute is supplied, refill_rate = rpm/60 and
// bucket_size = max(ceil(refill_rate*10), supplied_burst).
func New(cfg types.RateLimitConfig, logger *slog.Logger) *Limiter {
	if cfg.CrawlDelayMs > 0 {
		return &Limiter{crawlDelayMs: cfg.CrawlDelayMs, logger: logger}
	}

	refillRate := cfg.RequestsPerMinute / 60
	if refillRate <= 0 {
		refillRate = 1
	}
	burst := int(math.Ceil(refillRate * 10))
	if cfg.BurstSize > burst {
		burst = cfg.BurstSize
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		rl:         rate.NewLimiter(rate.Limit(refillRate), burst),
		bucketSize: burst,
		refillRate: refillRate,
		logger:     logger,
	}
}

// TryAcquire attempts to consume one token without blocking.
func (l *Limiter) TryAcquire() bool {
	if l.crawlDelayMs > 0 {
		l.mu.Lock()
		defer l.mu.Unlock()
		elapsed := time.Since(l.lastFetch)
		if l.lastFetch.IsZero() || elapsed >= time.Duration(l.crawlDelayMs)*time.Millisecond {
			l.lastFetch = time.Now()
			return true
		}
		return false
	}
	return l.rl.Allow()
}

// Acquire blocks until a token is available (or ctx is cancelled).
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.crawlDelayMs > 0 {
		l.mu.Lock()
		elapsed := time.Since(l.lastFetch)
		wait := time.Duration(l.crawlDelayMs)*time.Millisecond - elapsed
		l.lastFetch = time.Now()
		l.mu.Unlock()
		if !l.lastFetch.IsZero() && wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	return l.rl.Wait(ctx)
}

// Execute acquires a token then runs fn.
func (l *Limiter) Execute(ctx context.Context, fn func() error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	return fn()
}

// Tokens reports the bucket's currently available tokens, for metrics
// scraping. Crawl-delay limiters have no bucket; they report 1 when a
// fetch would currently be allowed and 0 otherwise.
func (l *Limiter) Tokens() float64 {
	if l.crawlDelayMs > 0 {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.lastFetch.IsZero() || time.Since(l.lastFetch) >= time.Duration(l.crawlDelayMs)*time.Millisecond {
			return 1
		}
		return 0
	}
	return l.rl.Tokens()
}

// Registry keys Limiters by source id, process-wide, so that all threads of
// a source share the same bucket.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	logger   *slog.Logger
}

// NewRegistry creates an empty rate-limiter registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		logger:   logger.With("component", "ratelimit_registry"),
	}
}

// Get returns the Limiter for a source, creating it from cfg on first use.
func (r *Registry) Get(sourceID string, cfg types.RateLimitConfig) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[sourceID]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[sourceID]; ok {
		return l
	}
	l = New(cfg, r.logger.With("source_id", sourceID))
	r.limiters[sourceID] = l
	return l
}

// Snapshot returns each known source's currently available token count, for
// periodic gauge scraping (tokens refill continuously, so this is a
// poll-based metric rather than one updated on every Acquire).
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.limiters))
	for sourceID, l := range r.limiters {
		out[sourceID] = l.Tokens()
	}
	return out
}
