package adapter

import (
	"testing"
	"time"

	"github.com/ingestd/mediaforge/internal/types"
)

func newTestHTMLAdapter(style types.PaginationStyle) *GenericHTML {
	source := &types.Source{
		ID:      "forum-1",
		Name:    "Test Forum",
		BaseURL: "https://forum.example.com",
		HTMLConfig: &types.HTMLAdapterConfig{
			URLPattern:      "https://forum.example.com/thread/1",
			PaginationStyle: style,
			ItemsPerPage:    20,
		},
	}
	return NewGenericHTML(source)
}

func TestPageURLQueryStyleOmitsParamOnPageOne(t *testing.T) {
	a := newTestHTMLAdapter(types.PaginationQuery)
	if got := a.pageURL(1); got != "https://forum.example.com/thread/1" {
		t.Fatalf("page 1 url = %q, want bare url_pattern", got)
	}
	if got := a.pageURL(3); got != "https://forum.example.com/thread/1?page=3" {
		t.Fatalf("page 3 url = %q", got)
	}
}

func TestPageURLPathStyleAppendsSuffix(t *testing.T) {
	a := newTestHTMLAdapter(types.PaginationPath)
	if got := a.pageURL(1); got != "https://forum.example.com/thread/1" {
		t.Fatalf("page 1 url = %q", got)
	}
	if got := a.pageURL(4); got != "https://forum.example.com/thread/1/page-4" {
		t.Fatalf("page 4 url = %q", got)
	}
}

func TestPageURLOffsetStyleComputesOffset(t *testing.T) {
	a := newTestHTMLAdapter(types.PaginationOffset)
	if got := a.pageURL(1); got != "https://forum.example.com/thread/1?offset=0" {
		t.Fatalf("page 1 url = %q", got)
	}
	if got := a.pageURL(3); got != "https://forum.example.com/thread/1?offset=40" {
		t.Fatalf("page 3 url = %q", got)
	}
}

func TestParseTimestampISO8601(t *testing.T) {
	got := parseTimestamp("2026-01-05T14:00:00Z")
	want := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseTimestampUnixSeconds(t *testing.T) {
	got := parseTimestamp("1767628800")
	if got.Year() != 2026 {
		t.Fatalf("expected a 2026 date, got %v", got)
	}
}

func TestParseTimestampUnixMillis(t *testing.T) {
	got := parseTimestamp("1767628800000")
	if got.Year() != 2026 {
		t.Fatalf("expected a 2026 date, got %v", got)
	}
}

func TestParseTimestampRelative(t *testing.T) {
	got := parseTimestamp("3 hours ago")
	diff := time.Since(got)
	if diff < 2*time.Hour+50*time.Minute || diff > 3*time.Hour+10*time.Minute {
		t.Fatalf("expected ~3h ago, got %v ago", diff)
	}
}

func TestDistinctURLsPreservesOrderAndDropsDuplicates(t *testing.T) {
	in := []string{"a", "b", "a", "c", "", "b"}
	out := distinctURLs(in)
	want := []string{"a", "b", "c"}
	if len(out) != len(want) {
		t.Fatalf("got %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("got %v, want %v", out, want)
		}
	}
}

const xpathFixturePage = `<html><body>
<div class="wrapper">
	<div data-post="1"><a class="perma" href="/t/1">one</a><img class="media" src="/m/1.jpg"></div>
	<div data-post="2"><a class="perma" href="/t/2">two</a><img class="media" src="/m/2.jpg"></div>
	<div class="ad-slot"><img class="media" src="/ads/3.jpg"></div>
</div>
</body></html>`

func newXPathTestAdapter() *GenericHTML {
	source := &types.Source{
		ID:      "forum-xpath",
		Name:    "XPath Forum",
		BaseURL: "https://forum.example.com",
		HTMLConfig: &types.HTMLAdapterConfig{
			URLPattern:   "https://forum.example.com/thread/1",
			SelectorMode: types.SelectorModeXPath,
			Selectors: types.HTMLSelectorConfig{
				ItemContainer: "//div[@data-post]",
				Permalink:     "a.perma",
				MediaURL:      "img.media",
			},
		},
	}
	return NewGenericHTML(source)
}

func TestItemSelectionsXPathModeSkipsNodesWithoutDataPostAttr(t *testing.T) {
	a := newXPathTestAdapter()
	posts, err := a.itemSelections([]byte(xpathFixturePage))
	if err != nil {
		t.Fatalf("itemSelections: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d item nodes, want 2 (ad-slot div has no data-post attr)", len(posts))
	}
}

func TestExtractItemXPathModeReusesCSSFieldSelectors(t *testing.T) {
	a := newXPathTestAdapter()
	posts, err := a.itemSelections([]byte(xpathFixturePage))
	if err != nil {
		t.Fatalf("itemSelections: %v", err)
	}
	items := a.extractItem(posts[0], 0, 1)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].Permalink != "https://forum.example.com/t/1" {
		t.Fatalf("permalink = %q", items[0].Permalink)
	}
	if items[0].MediaURL != "https://forum.example.com/m/1.jpg" {
		t.Fatalf("media url = %q", items[0].MediaURL)
	}
}

func TestItemSelectionsXPathModeReturnsNoneWhenNothingMatches(t *testing.T) {
	a := newXPathTestAdapter()
	a.cfg.Selectors.ItemContainer = "//div[@data-missing]"
	posts, err := a.itemSelections([]byte(xpathFixturePage))
	if err != nil {
		t.Fatalf("itemSelections: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected no matches for a selector that matches nothing, got %d", len(posts))
	}
}
