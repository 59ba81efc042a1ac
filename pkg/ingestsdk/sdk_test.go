package ingestsdk

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ingestd/mediaforge/internal/adapter"
	"github.com/ingestd/mediaforge/internal/dedup"
	"github.com/ingestd/mediaforge/internal/types"
)

type fakeAdapter struct {
	latestPage int
	pages      map[int][]types.ScrapedItem
}

func (a *fakeAdapter) Name() string                  { return "fake" }
func (a *fakeAdapter) Validate(context.Context) error { return nil }
func (a *fakeAdapter) GetLatestPage(context.Context) (adapter.LatestPageInfo, error) {
	return adapter.LatestPageInfo{LatestPage: a.latestPage}, nil
}
func (a *fakeAdapter) ScanPage(_ context.Context, page int) (adapter.PageResult, error) {
	items := a.pages[page]
	return adapter.PageResult{Items: items, PageNumber: page, HasMore: page > 1}, nil
}

func newItem(id string, postedAt time.Time) types.ScrapedItem {
	item := types.ScrapedItem{
		ExternalID: id,
		Author:     "alice",
		PostedAt:   postedAt,
		MediaType:  types.MediaImage,
		MediaURL:   fmt.Sprintf("https://example.com/%s.jpg", id),
	}
	item.Fingerprint = dedup.FingerprintItem(&item)
	return item
}

func testSource() *types.Source {
	return &types.Source{ID: "src1", RateLimit: types.RateLimitConfig{RequestsPerMinute: 600}}
}

func TestIngestorRunWithAdapterFiresOnItem(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour)
	fake := &fakeAdapter{
		latestPage: 1,
		pages: map[int][]types.ScrapedItem{
			1: {newItem("a", base), newItem("b", base.Add(time.Hour))},
		},
	}

	var received []string
	ingestor := New()
	ingestor.OnItem(func(item *types.ScrapedItem) {
		received = append(received, item.ExternalID)
	})

	run, err := ingestor.RunWithAdapter(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != types.RunCaughtUp {
		t.Fatalf("status = %q, want caught_up", run.Status)
	}
	if len(received) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(received))
	}
}

func TestIngestorResumesFromCheckpointAcrossRuns(t *testing.T) {
	base := time.Now().Add(-24 * time.Hour)
	itemA := newItem("a", base)
	itemB := newItem("b", base.Add(time.Hour))

	ingestor := New()
	var seen []string
	ingestor.OnItem(func(item *types.ScrapedItem) { seen = append(seen, item.ExternalID) })

	fake := &fakeAdapter{latestPage: 1, pages: map[int][]types.ScrapedItem{1: {itemA}}}
	if _, err := ingestor.RunWithAdapter(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("after first run, seen %d items, want 1", len(seen))
	}

	cp := ingestor.Checkpoint("t1")
	if cp == nil || cp.LastSeenItemID != "a" {
		t.Fatalf("checkpoint = %+v, want last_seen_item_id=a", cp)
	}

	fake.pages[1] = []types.ScrapedItem{itemB, itemA}
	if _, err := ingestor.RunWithAdapter(context.Background(), testSource(), &types.Thread{ID: "t1"}, fake); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("after second run, seen %d items total, want 2 (new item only)", len(seen))
	}
	if seen[1] != "b" {
		t.Fatalf("second run emitted %q, want b", seen[1])
	}
}

func TestIngestorRunUnknownAdapterKindErrors(t *testing.T) {
	ingestor := New()
	source := &types.Source{ID: "src1", AdapterKind: types.AdapterKind("unknown")}
	if _, err := ingestor.Run(context.Background(), source, &types.Thread{ID: "t1"}); err == nil {
		t.Fatal("expected error for unknown adapter kind")
	}
}
