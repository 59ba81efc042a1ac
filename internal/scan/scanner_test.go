package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ingestd/mediaforge/internal/adapter"
	"github.com/ingestd/mediaforge/internal/breaker"
	"github.com/ingestd/mediaforge/internal/concurrency"
	"github.com/ingestd/mediaforge/internal/dedup"
	"github.com/ingestd/mediaforge/internal/persist"
	"github.com/ingestd/mediaforge/internal/ratelimit"
	"github.com/ingestd/mediaforge/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCheckpointStore is an in-memory CheckpointStore for scanner tests.
type fakeCheckpointStore struct {
	mu  sync.Mutex
	cps map[string]*types.Checkpoint
}

func newFakeCheckpointStore(cp *types.Checkpoint) *fakeCheckpointStore {
	return &fakeCheckpointStore{cps: map[string]*types.Checkpoint{cp.ThreadID: cp}}
}

func (f *fakeCheckpointStore) Get(_ context.Context, threadID string) (*types.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cp, ok := f.cps[threadID]; ok {
		cpCopy := *cp
		return &cpCopy, nil
	}
	cp := &types.Checkpoint{ThreadID: threadID}
	f.cps[threadID] = cp
	return cp, nil
}

func (f *fakeCheckpointStore) UpdateSuccess(_ context.Context, threadID string, item *types.ScrapedItem, page int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.cps[threadID]
	cp.LastSeenItemID = item.ExternalID
	cp.LastSeenFingerprint = item.Fingerprint
	ts := item.PostedAt
	cp.LastSeenTimestamp = &ts
	cp.LastSeenPage = page
	cp.CatchUpCursor = nil
	cp.ConsecutiveFailures = 0
	return nil
}

func (f *fakeCheckpointStore) SaveCatchUp(_ context.Context, threadID string, cursor types.CatchUpCursor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := cursor
	f.cps[threadID].CatchUpCursor = &c
	return nil
}

func (f *fakeCheckpointStore) ClearCatchUp(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cps[threadID].CatchUpCursor = nil
	return nil
}

func (f *fakeCheckpointStore) UpdateFailure(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cps[threadID].ConsecutiveFailures++
	return nil
}

func (f *fakeCheckpointStore) ResetFailures(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cps[threadID].ConsecutiveFailures = 0
	return nil
}

// fakePersister records committed items without touching a database.
type fakePersister struct {
	mu        sync.Mutex
	committed []types.ScrapedItem
}

func (f *fakePersister) CommitItems(_ context.Context, _ string, items []types.ScrapedItem) persist.Counters {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, items...)
	return persist.Counters{Inserted: len(items)}
}

// fakeAdapter serves pre-baked pages keyed by page number, newest-to-oldest.
type fakeAdapter struct {
	latestPage int
	pages      map[int][]types.ScrapedItem
	err        error
}

func (a *fakeAdapter) Name() string                  { return "fake" }
func (a *fakeAdapter) Validate(context.Context) error { return nil }
func (a *fakeAdapter) GetLatestPage(context.Context) (adapter.LatestPageInfo, error) {
	if a.err != nil {
		return adapter.LatestPageInfo{}, a.err
	}
	return adapter.LatestPageInfo{LatestPage: a.latestPage}, nil
}
func (a *fakeAdapter) ScanPage(_ context.Context, page int) (adapter.PageResult, error) {
	items := a.pages[page]
	return adapter.PageResult{Items: items, PageNumber: page, HasMore: page > 1}, nil
}

func newItem(id, author string, postedAt time.Time) types.ScrapedItem {
	item := types.ScrapedItem{
		ExternalID: id,
		Author:     author,
		PostedAt:   postedAt,
		MediaType:  types.MediaImage,
		MediaURL:   fmt.Sprintf("https://example.com/%s.jpg", id),
	}
	item.Fingerprint = dedup.FingerprintItem(&item)
	return item
}

func newTestScanner(cfg Config, cps CheckpointStore, pers Persister) *Scanner {
	logger := testLogger()
	return New(cps, pers, breaker.NewRegistry(breaker.DefaultConfig(), logger), ratelimit.NewRegistry(logger), concurrency.New(10, logger), cfg, logger)
}

func testSource() *types.Source {
	return &types.Source{ID: "src1", Name: "Source 1", RateLimit: types.RateLimitConfig{RequestsPerMinute: 600}}
}

func TestScannerFreshCatchesUpToPageOne(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour)
	fake := &fakeAdapter{
		latestPage: 2,
		pages: map[int][]types.ScrapedItem{
			2: {newItem("b", "alice", base.Add(2 * time.Hour))},
			1: {newItem("a", "alice", base)},
		},
	}
	cps := newFakeCheckpointStore(&types.Checkpoint{ThreadID: "t1"})
	pers := &fakePersister{}
	scanner := newTestScanner(DefaultConfig(), cps, pers)

	run, err := scanner.Run(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != types.RunCaughtUp {
		t.Fatalf("status = %q, want caught_up", run.Status)
	}
	if len(pers.committed) != 2 {
		t.Fatalf("committed %d items, want 2", len(pers.committed))
	}
}

func TestScannerStopsAtCheckpoint(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour)
	itemA := newItem("a", "alice", base)
	itemB := newItem("b", "alice", base.Add(time.Hour))
	itemC := newItem("c", "alice", base.Add(2*time.Hour))
	itemD := newItem("d", "alice", base.Add(3*time.Hour))

	fake := &fakeAdapter{
		latestPage: 1,
		pages: map[int][]types.ScrapedItem{
			1: {itemD, itemC, itemB, itemA},
		},
	}

	cp := &types.Checkpoint{ThreadID: "t1", LastSeenItemID: "b"}
	cps := newFakeCheckpointStore(cp)
	pers := &fakePersister{}
	scanner := newTestScanner(DefaultConfig(), cps, pers)

	run, err := scanner.Run(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != types.RunComplete {
		t.Fatalf("status = %q, want complete", run.Status)
	}
	if len(pers.committed) != 2 {
		t.Fatalf("committed %d items, want 2 (c and d)", len(pers.committed))
	}
}

func TestScannerPageCapSavesCatchUp(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour)
	fake := &fakeAdapter{
		latestPage: 10,
		pages: map[int][]types.ScrapedItem{
			10: {
				newItem("a", "alice", base),
				newItem("b", "alice", base.Add(time.Hour)),
				newItem("c", "alice", base.Add(2*time.Hour)),
			},
		},
	}
	cfg := DefaultConfig()
	cfg.MaxItemsPerRun = 2

	cps := newFakeCheckpointStore(&types.Checkpoint{ThreadID: "t1"})
	pers := &fakePersister{}
	scanner := newTestScanner(cfg, cps, pers)

	run, err := scanner.Run(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != types.RunPartial {
		t.Fatalf("status = %q, want partial", run.Status)
	}
	if len(pers.committed) != 2 {
		t.Fatalf("committed %d items, want 2", len(pers.committed))
	}

	cpAfter, _ := cps.Get(context.Background(), "t1")
	if cpAfter.CatchUpCursor == nil || cpAfter.CatchUpCursor.Reason != types.ReasonPageCap {
		t.Fatalf("expected a page_cap catch-up cursor, got %+v", cpAfter.CatchUpCursor)
	}
}

func TestScannerTimeoutSavesCatchUp(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour)
	fake := &fakeAdapter{
		latestPage: 1,
		pages: map[int][]types.ScrapedItem{
			1: {newItem("a", "alice", base)},
		},
	}
	cfg := DefaultConfig()
	cfg.ScanTimeout = 0 // spec scenario 4: scan_timeout_ms=0

	cps := newFakeCheckpointStore(&types.Checkpoint{ThreadID: "t1"})
	pers := &fakePersister{}
	scanner := newTestScanner(cfg, cps, pers)

	run, err := scanner.Run(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != types.RunPartial {
		t.Fatalf("status = %q, want partial", run.Status)
	}
	if len(pers.committed) != 0 {
		t.Fatalf("committed %d items, want 0 (timeout before any page fetched)", len(pers.committed))
	}
}

func TestScannerAccumulatesConsecutiveFailuresAcrossRuns(t *testing.T) {
	cp := &types.Checkpoint{ThreadID: "t1"}
	cps := newFakeCheckpointStore(cp)
	pers := &fakePersister{}
	scanner := newTestScanner(DefaultConfig(), cps, pers)

	failing := &fakeAdapter{err: errors.New("upstream unreachable")}

	for i := 1; i <= 3; i++ {
		run, err := scanner.Run(context.Background(), testSource(), &types.Thread{ID: "t1"}, failing)
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		if run.Status != types.RunFailed {
			t.Fatalf("run %d: status = %q, want failed", i, run.Status)
		}
		got, _ := cps.Get(context.Background(), "t1")
		if got.ConsecutiveFailures != i {
			t.Fatalf("run %d: consecutive_failures = %d, want %d (must accumulate, not reset below threshold)", i, got.ConsecutiveFailures, i)
		}
	}
}

func TestScannerResetsFailuresOnceCooldownElapsesPastThreshold(t *testing.T) {
	stale := time.Now().Add(-2 * time.Hour)
	cp := &types.Checkpoint{ThreadID: "t1", ConsecutiveFailures: 5, LastRunAt: &stale}
	cps := newFakeCheckpointStore(cp)
	pers := &fakePersister{}
	scanner := newTestScanner(DefaultConfig(), cps, pers)

	fake := &fakeAdapter{latestPage: 1}
	run, err := scanner.Run(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status == types.RunFailed {
		t.Fatalf("status = %q, want the thread to auto-unblock and attempt a scan", run.Status)
	}
}

func TestScannerSkipsWhenFailuresWithinCooldown(t *testing.T) {
	recent := time.Now().Add(-time.Minute)
	cp := &types.Checkpoint{ThreadID: "t1", ConsecutiveFailures: 5, LastRunAt: &recent}
	cps := newFakeCheckpointStore(cp)
	pers := &fakePersister{}
	scanner := newTestScanner(DefaultConfig(), cps, pers)

	fake := &fakeAdapter{latestPage: 1}
	run, err := scanner.Run(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != types.RunFailed {
		t.Fatalf("status = %q, want failed (cooldown in effect)", run.Status)
	}
}
