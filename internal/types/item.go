package types

import "time"

// MediaType classifies the kind of media a scraped or persisted item carries.
type MediaType string

const (
	MediaImage   MediaType = "image"
	MediaGif     MediaType = "gif"
	MediaVideo   MediaType = "video"
	MediaUnknown MediaType = "unknown"
)

// Asset describes one media asset belonging to a gallery post.
type Asset struct {
	URL    string    `json:"url"`
	Type   MediaType `json:"type"`
	Width  int       `json:"width,omitempty"`
	Height int       `json:"height,omitempty"`
}

// SourceMetrics carries adapter-reported engagement counters (read-only, never
// persisted over the datastore's own counters).
type SourceMetrics struct {
	Upvotes  int `json:"upvotes,omitempty"`
	Comments int `json:"comments,omitempty"`
	Views    int `json:"views,omitempty"`
}

// ScrapedItem is the transient, normalized output of an adapter's scan_page.
type ScrapedItem struct {
	ExternalID    string         `json:"external_id"`
	Permalink     string         `json:"permalink"`
	PostedAt      time.Time      `json:"posted_at"`
	Author        string         `json:"author"`
	AuthorURL     string         `json:"author_url,omitempty"`
	Title         string         `json:"title,omitempty"`
	Caption       string         `json:"caption,omitempty"`
	MediaType     MediaType      `json:"media_type"`
	MediaURL      string         `json:"media_url"`
	ThumbnailURL  string         `json:"thumbnail_url,omitempty"`
	DurationMs    *int64         `json:"duration_ms,omitempty"`
	Width         int            `json:"width,omitempty"`
	Height        int            `json:"height,omitempty"`
	Assets        []Asset        `json:"assets,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	SourceMetrics *SourceMetrics `json:"source_metrics,omitempty"`

	// Fingerprint is computed by the dedup package once the item is read off a page.
	Fingerprint string `json:"-"`
}

// MediaURLs is the persisted JSON shape for a media item's URLs.
type MediaURLs struct {
	Original     string `json:"original"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	CDNOriginal  string `json:"cdn_original,omitempty"`
	CDNThumbnail string `json:"cdn_thumbnail,omitempty"`
}

// MediaItem is the persisted record for one ingested piece of media.
type MediaItem struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread_id"`
	ExternalItemID string    `json:"external_item_id"`
	Fingerprint    string    `json:"fingerprint"`
	Permalink      string    `json:"permalink"`
	PostedAt       time.Time `json:"posted_at"`
	Author         string    `json:"author"`
	Title          string    `json:"title,omitempty"`
	Caption        string    `json:"caption,omitempty"`
	MediaType      MediaType `json:"media_type"`
	MediaURLs      MediaURLs `json:"media_urls"`
	DurationMs     *int64    `json:"duration_ms,omitempty"`
	Width          int       `json:"width,omitempty"`
	Height         int       `json:"height,omitempty"`
	Tags           []string  `json:"tags,omitempty"`

	// Owned by the read side; the engine never writes these after insert.
	Upvotes       int  `json:"upvotes"`
	CommentCount  int  `json:"comment_count"`
	IsModerated   bool `json:"is_moderated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MediaAsset is a child of a media item (galleries), cascade-deleted with it.
type MediaAsset struct {
	ID          string    `json:"id"`
	MediaItemID string    `json:"media_item_id"`
	Position    int       `json:"position"`
	URL         string    `json:"url"`
	Type        MediaType `json:"type"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	DurationMs  *int64    `json:"duration_ms,omitempty"`
}
