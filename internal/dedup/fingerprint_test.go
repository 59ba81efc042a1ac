package dedup

import (
	"testing"
	"time"

	"github.com/ingestd/mediaforge/internal/types"
)

func TestFingerprintStableAcrossMinuteJitter(t *testing.T) {
	base := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	a := Fingerprint("https://example.com/media/abc.jpg", "Alice", base, 800, 600)
	b := Fingerprint("https://example.com/media/abc.jpg", " alice ", base.Add(40*time.Minute), 800, 600)

	if a != b {
		t.Fatalf("expected same-hour fingerprints to match, got %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64-char fingerprint, got %d chars", len(a))
	}
}

func TestFingerprintChangesAcrossHourBoundary(t *testing.T) {
	t1 := time.Date(2026, 1, 5, 14, 59, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 5, 15, 0, 1, 0, time.UTC)

	a := Fingerprint("https://example.com/media/abc.jpg", "alice", t1, 0, 0)
	b := Fingerprint("https://example.com/media/abc.jpg", "alice", t2, 0, 0)

	if a == b {
		t.Fatal("expected fingerprints on either side of an hour boundary to differ")
	}
}

func TestFingerprintOmitsDimensionsWhenZero(t *testing.T) {
	ts := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	withDims := Fingerprint("https://example.com/a.jpg", "bob", ts, 100, 100)
	withoutDims := Fingerprint("https://example.com/a.jpg", "bob", ts, 0, 0)

	if withDims == withoutDims {
		t.Fatal("expected dimension suffix to change the fingerprint")
	}
}

func TestFingerprintItemMatchesManualCall(t *testing.T) {
	ts := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	item := &types.ScrapedItem{MediaURL: "https://example.com/x.png", Author: "Carl", PostedAt: ts, Width: 10, Height: 20}

	want := Fingerprint(item.MediaURL, item.Author, item.PostedAt, item.Width, item.Height)
	got := FingerprintItem(item)
	if got != want {
		t.Fatalf("FingerprintItem = %q, want %q", got, want)
	}
}

func TestNormalizeURLForcesHTTPSAndStripsTrackingParams(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://example.com/post/1?utm_source=reddit&id=1", "https://example.com/post/1?id=1"},
		{"https://example.com/post/2/", "https://example.com/post/2"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com/post?fbclid=abc", "https://example.com/post"},
	}

	for _, c := range cases {
		got := NormalizeURL(c.in)
		if got != c.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestInferMediaTypeByExtension(t *testing.T) {
	cases := []struct {
		url  string
		want types.MediaType
	}{
		{"https://example.com/a.jpg", types.MediaImage},
		{"https://example.com/a.gif", types.MediaGif},
		{"https://example.com/a.mp4", types.MediaVideo},
		{"https://example.com/a.bin", types.MediaUnknown},
	}

	for _, c := range cases {
		got := InferMediaType(c.url, "")
		if got != c.want {
			t.Errorf("InferMediaType(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestInferMediaTypeFallsBackToContentType(t *testing.T) {
	got := InferMediaType("https://example.com/download", "video/mp4")
	if got != types.MediaVideo {
		t.Fatalf("expected video from content-type fallback, got %q", got)
	}
}

func TestValidDuration(t *testing.T) {
	const maxMs = 600_000 // scan.Config.MaxDurationMs default, per spec §4.7

	ok := int64(5000)
	zero := int64(0)
	negative := int64(-1)
	atCap := int64(maxMs)
	overCap := int64(maxMs + 1)

	if !ValidDuration(nil, maxMs) {
		t.Error("nil duration should be valid")
	}
	if !ValidDuration(&ok, maxMs) {
		t.Error("5s duration should be valid")
	}
	if ValidDuration(&zero, maxMs) {
		t.Error("zero duration should be invalid")
	}
	if ValidDuration(&negative, maxMs) {
		t.Error("negative duration should be invalid")
	}
	if !ValidDuration(&atCap, maxMs) {
		t.Error("duration exactly at the cap should be valid")
	}
	if ValidDuration(&overCap, maxMs) {
		t.Error("duration over the cap should be invalid")
	}
}
