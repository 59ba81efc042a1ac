// Package scan implements the incremental backward-paging scanner (C7):
// the algorithm that walks a thread's pages newest-to-oldest until it hits
// the last checkpoint or a resource cap, buffering and committing valid
// items along the way.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ingestd/mediaforge/internal/adapter"
	"github.com/ingestd/mediaforge/internal/breaker"
	"github.com/ingestd/mediaforge/internal/checkpoint"
	"github.com/ingestd/mediaforge/internal/concurrency"
	"github.com/ingestd/mediaforge/internal/dedup"
	"github.com/ingestd/mediaforge/internal/persist"
	"github.com/ingestd/mediaforge/internal/ratelimit"
	"github.com/ingestd/mediaforge/internal/types"
)

// RunObserver receives a terminal run status, letting the caller mirror
// outcomes into metrics without this package depending on a metrics
// library directly.
type RunObserver func(status types.RunStatus)

// Config mirrors spec §4.7's scanner tunables.
type Config struct {
	MaxPagesPerRun int           `mapstructure:"max_pages_per_run" yaml:"max_pages_per_run"`
	MaxItemsPerRun int           `mapstructure:"max_items_per_run" yaml:"max_items_per_run"`
	ScanTimeout    time.Duration `mapstructure:"scan_timeout"      yaml:"scan_timeout"`
	MaxItemAge     time.Duration `mapstructure:"max_item_age"      yaml:"max_item_age"` // 0 disables the age cap
	MaxDurationMs  int64         `mapstructure:"max_duration_ms"   yaml:"max_duration_ms"`
}

// DefaultConfig returns spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxPagesPerRun: 10,
		MaxItemsPerRun: 100,
		ScanTimeout:    300 * time.Second,
		MaxDurationMs:  600_000,
	}
}

// CheckpointStore is the subset of *checkpoint.Store the scanner needs,
// narrowed to an interface so tests can substitute an in-memory fake
// instead of a live Postgres connection.
type CheckpointStore interface {
	Get(ctx context.Context, threadID string) (*types.Checkpoint, error)
	UpdateSuccess(ctx context.Context, threadID string, item *types.ScrapedItem, page int) error
	SaveCatchUp(ctx context.Context, threadID string, cursor types.CatchUpCursor) error
	ClearCatchUp(ctx context.Context, threadID string) error
	UpdateFailure(ctx context.Context, threadID string) error
	ResetFailures(ctx context.Context, threadID string) error
}

// Persister is the subset of *persist.Store the scanner needs.
type Persister interface {
	CommitItems(ctx context.Context, threadID string, items []types.ScrapedItem) persist.Counters
}

// Scanner runs the backward-paging algorithm for one thread at a time.
type Scanner struct {
	checkpoints CheckpointStore
	persistence Persister
	breakers    *breaker.Registry
	limiters    *ratelimit.Registry
	concurrency *concurrency.Limiter
	cfg         Config
	logger      *slog.Logger

	// onRunFinished, if set, fires once per completed Run with its
	// terminal status. Nil by default; cmd wiring sets it to a closure
	// over observability.DomainMetrics.IngestRunsTotal.
	onRunFinished RunObserver
}

// New builds a Scanner wired to the shared cross-cutting registries.
func New(checkpoints CheckpointStore, persistence Persister, breakers *breaker.Registry, limiters *ratelimit.Registry, conc *concurrency.Limiter, cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		checkpoints: checkpoints,
		persistence: persistence,
		breakers:    breakers,
		limiters:    limiters,
		concurrency: conc,
		cfg:         cfg,
		logger:      logger.With("component", "scanner"),
	}
}

// OnRunFinished registers a callback invoked with every run's terminal
// status. Intended for metrics wiring; safe to leave unset.
func (s *Scanner) OnRunFinished(observer RunObserver) {
	s.onRunFinished = observer
}

// Run executes one ingest run for thread over source, returning the
// finalized IngestRun per spec §4.7's seven-step algorithm.
func (s *Scanner) Run(ctx context.Context, source *types.Source, thread *types.Thread, a adapter.Adapter) (*types.IngestRun, error) {
	run := &types.IngestRun{
		ID:        uuid.NewString(),
		ThreadID:  thread.ID,
		Status:    types.RunRunning,
		StartedAt: time.Now(),
	}

	cp, err := s.checkpoints.Get(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	run.CheckpointBefore = cp

	if checkpoint.ShouldSkipDueToFailures(cp) {
		return s.finalize(run, types.RunFailed, "thread skipped: consecutive_failures cooldown in effect"), nil
	}

	// Only the "threshold crossed, cooldown elapsed" case auto-unblocks here;
	// the ShouldSkipDueToFailures check above already returned false, so
	// reaching this point with a count still below threshold means the
	// thread never tripped the skip in the first place and its failure
	// streak must be left alone for UpdateFailure/UpdateSuccess to manage.
	if cp.ConsecutiveFailures >= checkpoint.MaxConsecutiveFailures {
		if err := s.checkpoints.ResetFailures(ctx, thread.ID); err != nil {
			return nil, fmt.Errorf("reset failures: %w", err)
		}
		cp.ConsecutiveFailures = 0
		cp.CatchUpCursor = nil
	}

	result, runErr := s.scan(ctx, source, thread, a, cp, run)
	if runErr != nil {
		if err := s.checkpoints.UpdateFailure(ctx, thread.ID); err != nil {
			s.logger.Error("failed to record checkpoint failure", "error", err, "thread_id", thread.ID)
		}
		if err := s.checkpoints.ClearCatchUp(ctx, thread.ID); err != nil {
			s.logger.Error("failed to clear catch-up cursor after failure", "error", err, "thread_id", thread.ID)
		}
		return s.finalize(run, types.RunFailed, runErr.Error()), nil
	}

	run.ItemsNew = result.counters.Inserted
	run.ItemsDuplicate = result.counters.Duplicates
	run.ItemsFailed = result.counters.Failed
	run.PagesScanned = result.pagesScanned
	return s.finalize(run, result.status, ""), nil
}

type scanResult struct {
	status       types.RunStatus
	counters     persist.Counters
	pagesScanned int
}

func (s *Scanner) scan(ctx context.Context, source *types.Source, thread *types.Thread, a adapter.Adapter, cp *types.Checkpoint, run *types.IngestRun) (scanResult, error) {
	started := time.Now()

	startPage, hasCatchUp := checkpoint.StartingPage(cp)
	if !hasCatchUp {
		latest, err := callAdapterGeneric(ctx, s, source, func() (adapter.LatestPageInfo, error) { return a.GetLatestPage(ctx) })
		if err != nil {
			return scanResult{}, err
		}
		startPage = latest.LatestPage
	}

	var buffer []types.ScrapedItem
	var newestItem *types.ScrapedItem
	hitCheckpoint := false
	pagesScanned := 0
	currentPage := startPage

	for pagesScanned < s.cfg.MaxPagesPerRun && currentPage >= 1 {
		if time.Since(started) > s.cfg.ScanTimeout {
			counters := s.commit(ctx, thread.ID, buffer)
			if err := s.saveCatchUp(ctx, thread.ID, currentPage, len(buffer), types.ReasonTimeout); err != nil {
				return scanResult{}, err
			}
			return scanResult{status: types.RunPartial, counters: counters, pagesScanned: pagesScanned}, nil
		}

		page, err := s.fetchPage(ctx, source, a, currentPage)
		if err != nil {
			return scanResult{}, err
		}
		pagesScanned++

		pageCapHit := false
		for i := range page.Items {
			item := &page.Items[i]
			item.Fingerprint = dedup.FingerprintItem(item)
			if newestItem == nil {
				newestItem = item
			}

			cmp := checkpoint.Compare(cp, item)
			switch cmp.Status {
			case types.CompareSeen:
				hitCheckpoint = true
			case types.CompareOlder:
				continue
			case types.CompareNew:
				if validateItem(item, s.cfg.MaxItemAge, s.cfg.MaxDurationMs) {
					buffer = append(buffer, *item)
				}
			}

			if hitCheckpoint {
				break
			}
			if len(buffer) >= s.cfg.MaxItemsPerRun {
				pageCapHit = true
				break
			}
		}

		if hitCheckpoint {
			break
		}
		if pageCapHit {
			counters := s.commit(ctx, thread.ID, buffer)
			if err := s.saveCatchUp(ctx, thread.ID, currentPage, len(buffer), types.ReasonPageCap); err != nil {
				return scanResult{}, err
			}
			return scanResult{status: types.RunPartial, counters: counters, pagesScanned: pagesScanned}, nil
		}

		if s.cfg.MaxItemAge > 0 && len(page.Items) > 0 {
			oldest := page.Items[len(page.Items)-1]
			if time.Since(oldest.PostedAt) > s.cfg.MaxItemAge {
				break
			}
		}

		currentPage--
	}

	counters := s.commit(ctx, thread.ID, buffer)

	if hitCheckpoint {
		if newestItem != nil {
			if err := s.checkpoints.UpdateSuccess(ctx, thread.ID, newestItem, currentPage); err != nil {
				return scanResult{}, fmt.Errorf("update checkpoint success: %w", err)
			}
		}
		return scanResult{status: types.RunComplete, counters: counters, pagesScanned: pagesScanned}, nil
	}

	if pagesScanned >= s.cfg.MaxPagesPerRun && currentPage >= 1 {
		if err := s.saveCatchUp(ctx, thread.ID, currentPage, len(buffer), types.ReasonPageCap); err != nil {
			return scanResult{}, err
		}
		return scanResult{status: types.RunPartial, counters: counters, pagesScanned: pagesScanned}, nil
	}

	// Reached page 1 without hitting the checkpoint: fully caught up.
	if newestItem != nil {
		if err := s.checkpoints.UpdateSuccess(ctx, thread.ID, newestItem, currentPage); err != nil {
			return scanResult{}, fmt.Errorf("update checkpoint success: %w", err)
		}
	}
	return scanResult{status: types.RunCaughtUp, counters: counters, pagesScanned: pagesScanned}, nil
}

func (s *Scanner) commit(ctx context.Context, threadID string, buffer []types.ScrapedItem) persist.Counters {
	if len(buffer) == 0 {
		return persist.Counters{}
	}
	return s.persistence.CommitItems(ctx, threadID, buffer)
}

func (s *Scanner) saveCatchUp(ctx context.Context, threadID string, page, itemsIngested int, reason types.CatchUpReason) error {
	return s.checkpoints.SaveCatchUp(ctx, threadID, types.CatchUpCursor{
		CurrentPage:   page,
		StartedAt:     time.Now(),
		ItemsIngested: itemsIngested,
		Reason:        reason,
	})
}

func (s *Scanner) fetchPage(ctx context.Context, source *types.Source, a adapter.Adapter, page int) (adapter.PageResult, error) {
	return callAdapterGeneric(ctx, s, source, func() (adapter.PageResult, error) { return a.ScanPage(ctx, page) })
}

// callAdapterGeneric wraps a single external adapter call with the circuit
// breaker, rate limiter, and global concurrency limiter, per spec §4.7's
// control flow ("the Scanner ... wraps each external call with the
// Circuit Breaker (C2), Rate Limiter (C1), and Concurrency Limiter (C3)").
func callAdapterGeneric[T any](ctx context.Context, s *Scanner, source *types.Source, call func() (T, error)) (T, error) {
	var result T
	b := s.breakers.Get(source.ID)
	limiter := s.limiters.Get(source.ID, source.RateLimit)

	err := s.concurrency.Execute(ctx, func() error {
		return b.ExecuteContext(ctx, func() error {
			return limiter.Execute(ctx, func() error {
				var callErr error
				result, callErr = call()
				return callErr
			})
		})
	})
	return result, err
}

func (s *Scanner) finalize(run *types.IngestRun, status types.RunStatus, errSummary string) *types.IngestRun {
	run.Status = status
	run.ErrorSummary = errSummary
	now := time.Now()
	run.FinishedAt = &now
	if s.onRunFinished != nil {
		s.onRunFinished(status)
	}
	return run
}

// validateItem applies spec §4.7's item validation: media URL present,
// duration valid if set, type known, and age within max_item_age_ms when
// that cap is active.
func validateItem(item *types.ScrapedItem, maxAge time.Duration, maxDurationMs int64) bool {
	if item.MediaURL == "" {
		return false
	}
	if item.MediaType == types.MediaUnknown {
		return false
	}
	if !dedup.ValidDuration(item.DurationMs, maxDurationMs) {
		return false
	}
	if maxAge > 0 && time.Since(item.PostedAt) > maxAge {
		return false
	}
	return true
}
