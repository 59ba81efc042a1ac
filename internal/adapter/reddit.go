package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ingestd/mediaforge/internal/dedup"
	"github.com/ingestd/mediaforge/internal/types"
)

// DefaultLatestPage is the fixed scanner page count Reddit's cursor-based
// listing is mapped onto (~250 posts at 25/page), per spec §4.4. Overridable
// per source via RedditAdapterConfig.LatestPage.
const DefaultLatestPage = 10

// Reddit scrapes /r/<sub>/new.json, mapping Reddit's `after` cursor onto a
// dense integer page range so it fits the Scanner's downward-walk contract.
type Reddit struct {
	source *types.Source
	cfg    types.RedditAdapterConfig

	mu          sync.Mutex
	cursorAfter map[int]string // reddit page (1-indexed, 1 = newest) -> after cursor to reach the NEXT reddit page
}

// NewReddit builds a reddit Adapter for source.
func NewReddit(source *types.Source) *Reddit {
	latest := source.RedditConfig.LatestPage
	if latest <= 0 {
		latest = DefaultLatestPage
	}
	cfg := *source.RedditConfig
	cfg.LatestPage = latest
	return &Reddit{source: source, cfg: cfg, cursorAfter: make(map[int]string)}
}

func (a *Reddit) Name() string { return a.source.Name }

func (a *Reddit) listingURL(after string) string {
	u := fmt.Sprintf("https://www.reddit.com/r/%s/new.json?limit=25", a.cfg.Subreddit)
	if after != "" {
		u += "&after=" + after
	}
	return u
}

func (a *Reddit) headers() map[string]string {
	h := map[string]string{"User-Agent": a.source.UserAgent}
	if h["User-Agent"] == "" {
		h["User-Agent"] = "mediaforge/1.0"
	}
	return h
}

func (a *Reddit) Validate(ctx context.Context) error {
	_, err := a.fetchListing(ctx, "")
	return err
}

func (a *Reddit) GetLatestPage(ctx context.Context) (LatestPageInfo, error) {
	return LatestPageInfo{LatestPage: a.cfg.LatestPage}, nil
}

// redditPageFor maps scanner page N (N=latest_page is newest) to the
// internal reddit page (1 = newest listing page).
func (a *Reddit) redditPageFor(scannerPage int) int {
	return a.cfg.LatestPage - scannerPage + 1
}

// ScanPage materializes the reddit listing page corresponding to
// scannerPage, walking forward through cached cursors if prior pages
// haven't been fetched yet (e.g. a catch-up job resuming mid-range).
func (a *Reddit) ScanPage(ctx context.Context, scannerPage int) (PageResult, error) {
	redditPage := a.redditPageFor(scannerPage)
	if redditPage < 1 {
		return PageResult{}, fmt.Errorf("scanner page %d maps outside reddit range (latest_page=%d)", scannerPage, a.cfg.LatestPage)
	}

	after, err := a.cursorForPage(ctx, redditPage)
	if err != nil {
		return PageResult{}, err
	}

	listing, err := a.fetchListing(ctx, after)
	if err != nil {
		return PageResult{}, err
	}

	a.mu.Lock()
	a.cursorAfter[redditPage] = listing.Data.After
	a.mu.Unlock()

	items := make([]types.ScrapedItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		item, ok := redditPostToItem(child.Data)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	return PageResult{Items: items, PageNumber: scannerPage, HasMore: scannerPage > 1}, nil
}

// cursorForPage returns the `after` cursor needed to fetch redditPage,
// walking forward from page 1 and caching each intermediate cursor.
func (a *Reddit) cursorForPage(ctx context.Context, redditPage int) (string, error) {
	if redditPage <= 1 {
		return "", nil
	}

	a.mu.Lock()
	cached, ok := a.cursorAfter[redditPage-1]
	a.mu.Unlock()
	if ok {
		return cached, nil
	}

	prevAfter, err := a.cursorForPage(ctx, redditPage-1)
	if err != nil {
		return "", err
	}
	listing, err := a.fetchListing(ctx, prevAfter)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.cursorAfter[redditPage-1] = listing.Data.After
	a.mu.Unlock()
	return listing.Data.After, nil
}

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID            string  `json:"id"`
	Permalink     string  `json:"permalink"`
	Author        string  `json:"author"`
	Title         string  `json:"title"`
	CreatedUTC    float64 `json:"created_utc"`
	Ups           int     `json:"ups"`
	NumComments   int     `json:"num_comments"`
	IsVideo       bool    `json:"is_video"`
	URL           string  `json:"url"`
	Thumbnail     string  `json:"thumbnail"`
	CrosspostList []redditPost `json:"crosspost_parent_list"`
	Media         *struct {
		RedditVideo *struct {
			FallbackURL string `json:"fallback_url"`
			Width       int    `json:"width"`
			Height      int    `json:"height"`
		} `json:"reddit_video"`
		OEmbed *struct {
			ProviderName string `json:"provider_name"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"oembed"`
	} `json:"media"`
	IsGallery   bool `json:"is_gallery"`
	GalleryData *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
	MediaMetadata map[string]struct {
		Status string `json:"status"`
		M      string `json:"m"` // mime type
		S      struct {
			U string `json:"u"` // image url (HTML-escaped)
			X int    `json:"x"`
			Y int    `json:"y"`
		} `json:"s"`
	} `json:"media_metadata"`
	Preview *struct {
		Images []struct {
			Source struct {
				URL    string `json:"url"`
				Width  int    `json:"width"`
				Height int    `json:"height"`
			} `json:"source"`
			Variants struct {
				MP4 *struct {
					Source struct{ URL string `json:"url"` } `json:"source"`
				} `json:"mp4"`
				GIF *struct {
					Source struct{ URL string `json:"url"` } `json:"source"`
				} `json:"gif"`
			} `json:"variants"`
		} `json:"images"`
	} `json:"preview"`
}

// redditPostToItem applies the media-extraction priority cascade from spec
// §4.4: reddit video -> crosspost video -> external oEmbed (redgifs
// dropped) -> gallery -> direct url by extension/host -> preview variant ->
// imgur .gifv rewrite. Returns ok=false if no usable media is found.
func redditPostToItem(p redditPost) (types.ScrapedItem, bool) {
	mediaURL, mediaType, width, height, assets := extractRedditMedia(p)
	if mediaURL == "" {
		return types.ScrapedItem{}, false
	}

	item := types.ScrapedItem{
		ExternalID: p.ID,
		Permalink:  "https://www.reddit.com" + p.Permalink,
		PostedAt:   time.Unix(int64(p.CreatedUTC), 0),
		Author:     p.Author,
		Title:      p.Title,
		MediaType:  mediaType,
		MediaURL:   mediaURL,
		Width:      width,
		Height:     height,
		Assets:     assets,
		SourceMetrics: &types.SourceMetrics{
			Upvotes:  p.Ups,
			Comments: p.NumComments,
		},
	}
	if p.Thumbnail != "" && strings.HasPrefix(p.Thumbnail, "http") {
		item.ThumbnailURL = p.Thumbnail
	}
	return item, true
}

func extractRedditMedia(p redditPost) (url string, mediaType types.MediaType, width, height int, assets []types.Asset) {
	if p.Media != nil && p.Media.RedditVideo != nil && p.Media.RedditVideo.FallbackURL != "" {
		return p.Media.RedditVideo.FallbackURL, types.MediaVideo, p.Media.RedditVideo.Width, p.Media.RedditVideo.Height, nil
	}

	for _, cp := range p.CrosspostList {
		if cp.Media != nil && cp.Media.RedditVideo != nil && cp.Media.RedditVideo.FallbackURL != "" {
			return cp.Media.RedditVideo.FallbackURL, types.MediaVideo, cp.Media.RedditVideo.Width, cp.Media.RedditVideo.Height, nil
		}
	}

	if p.Media != nil && p.Media.OEmbed != nil {
		if !strings.Contains(strings.ToLower(p.Media.OEmbed.ProviderName), "redgifs") {
			return p.Media.OEmbed.ThumbnailURL, types.MediaVideo, 0, 0, nil
		}
	}

	if p.IsGallery && p.GalleryData != nil && len(p.MediaMetadata) > 0 {
		ids := galleryOrder(p)
		var primaryURL string
		var primaryType types.MediaType
		var primaryW, primaryH int
		for _, id := range ids {
			meta, ok := p.MediaMetadata[id]
			if !ok || meta.Status != "valid" || meta.S.U == "" {
				continue
			}
			u := unescapeRedditURL(meta.S.U)
			t := mediaTypeFromMime(meta.M)
			if primaryURL == "" {
				primaryURL, primaryType, primaryW, primaryH = u, t, meta.S.X, meta.S.Y
				continue
			}
			// Asset order is the position: upsertAssets keys each row's
			// position on its index in this slice.
			assets = append(assets, types.Asset{URL: u, Type: t, Width: meta.S.X, Height: meta.S.Y})
		}
		if primaryURL != "" {
			return primaryURL, primaryType, primaryW, primaryH, assets
		}
	}

	if looksLikeDirectMedia(p.URL) {
		return p.URL, dedup.InferMediaType(p.URL, ""), 0, 0, nil // type inferred from the URL's extension/host
	}

	if p.Preview != nil && len(p.Preview.Images) > 0 {
		img := p.Preview.Images[0]
		if img.Variants.MP4 != nil && img.Variants.MP4.Source.URL != "" {
			return unescapeRedditURL(img.Variants.MP4.Source.URL), types.MediaVideo, img.Source.Width, img.Source.Height, nil
		}
		if img.Variants.GIF != nil && img.Variants.GIF.Source.URL != "" {
			return unescapeRedditURL(img.Variants.GIF.Source.URL), types.MediaGif, img.Source.Width, img.Source.Height, nil
		}
		if img.Source.URL != "" {
			return unescapeRedditURL(img.Source.URL), types.MediaImage, img.Source.Width, img.Source.Height, nil
		}
	}

	if strings.HasSuffix(strings.ToLower(p.URL), ".gifv") && strings.Contains(p.URL, "imgur.com") {
		return strings.TrimSuffix(p.URL, ".gifv") + ".mp4", types.MediaVideo, 0, 0, nil
	}

	return "", types.MediaUnknown, 0, 0, nil
}

func galleryOrder(p redditPost) []string {
	if p.GalleryData != nil && len(p.GalleryData.Items) > 0 {
		ids := make([]string, 0, len(p.GalleryData.Items))
		for _, it := range p.GalleryData.Items {
			ids = append(ids, it.MediaID)
		}
		return ids
	}
	ids := make([]string, 0, len(p.MediaMetadata))
	for id := range p.MediaMetadata {
		ids = append(ids, id)
	}
	return ids
}

func mediaTypeFromMime(mime string) types.MediaType {
	switch {
	case strings.Contains(mime, "gif"):
		return types.MediaGif
	case strings.Contains(mime, "image"):
		return types.MediaImage
	case strings.Contains(mime, "video"):
		return types.MediaVideo
	default:
		return types.MediaUnknown
	}
}

func unescapeRedditURL(u string) string {
	return strings.ReplaceAll(u, "&amp;", "&")
}

func looksLikeDirectMedia(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".mp4"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, host := range []string{"i.redd.it", "i.imgur.com", "v.redd.it"} {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

// fetchListing performs a single bounded retry on HTTP 429 after a 5000ms
// wait, per spec §4.4.
func (a *Reddit) fetchListing(ctx context.Context, after string) (*redditListing, error) {
	body, status, err := fetch(ctx, a.listingURL(after), a.headers())
	if status == 429 {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		body, status, err = fetch(ctx, a.listingURL(after), a.headers())
	}
	if err != nil {
		return nil, &types.FetchError{URL: a.listingURL(after), Err: err, Retryable: true}
	}
	if status >= 400 {
		return nil, &types.FetchError{URL: a.listingURL(after), StatusCode: status, Retryable: status >= 500 || status == 429}
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode reddit listing: %w", err)
	}
	return &listing, nil
}
