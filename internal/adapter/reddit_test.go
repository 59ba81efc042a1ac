package adapter

import (
	"testing"

	"github.com/ingestd/mediaforge/internal/types"
)

func newTestRedditAdapter() *Reddit {
	source := &types.Source{
		ID:           "reddit-1",
		Name:         "Test Subreddit",
		AdapterKind:  types.AdapterReddit,
		RedditConfig: &types.RedditAdapterConfig{Subreddit: "test"},
	}
	return NewReddit(source)
}

func TestRedditLatestPageDefaultsTo10(t *testing.T) {
	a := newTestRedditAdapter()
	if a.cfg.LatestPage != DefaultLatestPage {
		t.Fatalf("got %d, want %d", a.cfg.LatestPage, DefaultLatestPage)
	}
}

func TestRedditPageMapping(t *testing.T) {
	a := newTestRedditAdapter()
	cases := map[int]int{10: 1, 1: 10, 5: 6}
	for scannerPage, wantRedditPage := range cases {
		if got := a.redditPageFor(scannerPage); got != wantRedditPage {
			t.Errorf("redditPageFor(%d) = %d, want %d", scannerPage, got, wantRedditPage)
		}
	}
}

func TestExtractRedditMediaRedditVideoTakesPriority(t *testing.T) {
	p := redditPost{
		URL: "https://i.redd.it/fallback.jpg",
	}
	p.Media = &struct {
		RedditVideo *struct {
			FallbackURL string `json:"fallback_url"`
			Width       int    `json:"width"`
			Height      int    `json:"height"`
		} `json:"reddit_video"`
		OEmbed *struct {
			ProviderName string `json:"provider_name"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"oembed"`
	}{}
	p.Media.RedditVideo = &struct {
		FallbackURL string `json:"fallback_url"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
	}{FallbackURL: "https://v.redd.it/video.mp4", Width: 1920, Height: 1080}

	u, mt, w, h, assets := extractRedditMedia(p)
	if u != "https://v.redd.it/video.mp4" || mt != types.MediaVideo || w != 1920 || h != 1080 {
		t.Fatalf("got (%q, %q, %d, %d)", u, mt, w, h)
	}
	if len(assets) != 0 {
		t.Fatalf("expected no assets for a single video post, got %d", len(assets))
	}
}

func TestExtractRedditMediaDirectImageURL(t *testing.T) {
	p := redditPost{URL: "https://i.redd.it/abc123.jpg"}
	u, _, _, _, _ := extractRedditMedia(p)
	if u != p.URL {
		t.Fatalf("got %q, want direct url passthrough", u)
	}
}

func TestExtractRedditMediaImgurGifvRewrite(t *testing.T) {
	p := redditPost{URL: "https://imgur.com/abc123.gifv"}
	u, mt, _, _, _ := extractRedditMedia(p)
	if u != "https://imgur.com/abc123.mp4" || mt != types.MediaVideo {
		t.Fatalf("got (%q, %q)", u, mt)
	}
}

func TestExtractRedditMediaReturnsEmptyWhenNoneFound(t *testing.T) {
	p := redditPost{URL: "https://example.com/some-text-post"}
	u, _, _, _, _ := extractRedditMedia(p)
	if u != "" {
		t.Fatalf("expected no media, got %q", u)
	}
}

func TestExtractRedditMediaGalleryPopulatesRemainingAsAssets(t *testing.T) {
	p := redditPost{IsGallery: true}
	p.GalleryData = &struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	}{
		Items: []struct {
			MediaID string `json:"media_id"`
		}{{MediaID: "a1"}, {MediaID: "a2"}, {MediaID: "a3"}},
	}
	p.MediaMetadata = map[string]struct {
		Status string `json:"status"`
		M      string `json:"m"`
		S      struct {
			U string `json:"u"`
			X int    `json:"x"`
			Y int    `json:"y"`
		} `json:"s"`
	}{
		"a1": {Status: "valid", M: "image/jpg", S: struct {
			U string `json:"u"`
			X int    `json:"x"`
			Y int    `json:"y"`
		}{U: "https://i.redd.it/a1.jpg", X: 100, Y: 200}},
		"a2": {Status: "valid", M: "image/png", S: struct {
			U string `json:"u"`
			X int    `json:"x"`
			Y int    `json:"y"`
		}{U: "https://i.redd.it/a2.png", X: 110, Y: 210}},
		"a3": {Status: "valid", M: "image/png", S: struct {
			U string `json:"u"`
			X int    `json:"x"`
			Y int    `json:"y"`
		}{U: "https://i.redd.it/a3.png", X: 120, Y: 220}},
	}

	u, mt, w, h, assets := extractRedditMedia(p)
	if u != "https://i.redd.it/a1.jpg" || mt != types.MediaImage || w != 100 || h != 200 {
		t.Fatalf("got primary (%q, %q, %d, %d), want first gallery entry", u, mt, w, h)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 trailing gallery assets, got %d", len(assets))
	}
	if assets[0].URL != "https://i.redd.it/a2.png" || assets[1].URL != "https://i.redd.it/a3.png" {
		t.Fatalf("gallery assets out of order: %+v", assets)
	}
}
