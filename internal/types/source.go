package types

// AdapterKind identifies which adapter implementation a source uses.
type AdapterKind string

const (
	AdapterGenericHTML AdapterKind = "generic-html"
	AdapterReddit       AdapterKind = "reddit"
	AdapterRedGifs      AdapterKind = "redgifs"
)

// RateLimitConfig configures the per-source token bucket (C1).
type RateLimitConfig struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute,omitempty"`
	BurstSize         int     `mapstructure:"burst_size"          yaml:"burst_size"          json:"burst_size,omitempty"`
	CrawlDelayMs      int64   `mapstructure:"crawl_delay_ms"      yaml:"crawl_delay_ms"      json:"crawl_delay_ms,omitempty"`
}

// HTMLSelectorConfig configures the generic-html adapter's DOM extraction.
type HTMLSelectorConfig struct {
	ItemContainer    string `mapstructure:"item_container"    yaml:"item_container"    json:"item_container"`
	ExternalID       string `mapstructure:"external_id"       yaml:"external_id"       json:"external_id,omitempty"`
	Permalink        string `mapstructure:"permalink"         yaml:"permalink"         json:"permalink"`
	Timestamp        string `mapstructure:"timestamp"         yaml:"timestamp"         json:"timestamp,omitempty"`
	Author           string `mapstructure:"author"            yaml:"author"            json:"author,omitempty"`
	AuthorURL        string `mapstructure:"author_url"        yaml:"author_url"        json:"author_url,omitempty"`
	Title            string `mapstructure:"title"             yaml:"title"             json:"title,omitempty"`
	Caption          string `mapstructure:"caption"           yaml:"caption"           json:"caption,omitempty"`
	MediaURL         string `mapstructure:"media_url"         yaml:"media_url"         json:"media_url"`
	ThumbnailURL     string `mapstructure:"thumbnail_url"      yaml:"thumbnail_url"     json:"thumbnail_url,omitempty"`
	Tags             string `mapstructure:"tags"              yaml:"tags"              json:"tags,omitempty"`
	Pagination       string `mapstructure:"pagination"        yaml:"pagination"        json:"pagination,omitempty"`
}

// PaginationStyle identifies how the generic-html adapter builds page URLs.
type PaginationStyle string

const (
	PaginationQuery  PaginationStyle = "query"
	PaginationPath   PaginationStyle = "path"
	PaginationOffset PaginationStyle = "offset"
)

// SelectorMode picks how HTMLAdapterConfig.Selectors.ItemContainer is
// evaluated against a fetched page.
type SelectorMode string

const (
	SelectorModeCSS   SelectorMode = "css"
	SelectorModeXPath SelectorMode = "xpath"
)

// HTMLAdapterConfig is the adapter-specific config for a generic-html source.
type HTMLAdapterConfig struct {
	URLPattern      string          `mapstructure:"url_pattern"      yaml:"url_pattern"      json:"url_pattern"`
	PaginationStyle PaginationStyle `mapstructure:"pagination_style" yaml:"pagination_style" json:"pagination_style"`
	PageParam       string          `mapstructure:"page_param"       yaml:"page_param"       json:"page_param,omitempty"`
	ItemsPerPage    int             `mapstructure:"items_per_page"   yaml:"items_per_page"   json:"items_per_page,omitempty"`
	NewestFirst     bool            `mapstructure:"newest_first"     yaml:"newest_first"     json:"newest_first"`
	// SelectorMode defaults to "css" (goquery). Set to "xpath" when a site's
	// markup needs structural predicates CSS selectors can't express (e.g.
	// "the third sibling div without a class") — ItemContainer is then
	// evaluated as an XPath expression via antchfx/htmlquery, with every
	// other Selectors field still a CSS selector run against each matched
	// item node.
	SelectorMode SelectorMode       `mapstructure:"selector_mode" yaml:"selector_mode" json:"selector_mode,omitempty"`
	Selectors    HTMLSelectorConfig `mapstructure:"selectors"     yaml:"selectors"     json:"selectors"`
	// RenderJS routes every fetch for this source through a headless
	// Chromium instance instead of a plain HTTP GET, for sources whose item
	// list is populated by client-side JavaScript after load.
	RenderJS bool `mapstructure:"render_js" yaml:"render_js" json:"render_js,omitempty"`
	// WaitSelector, when RenderJS is set, is additionally awaited visible
	// before the rendered HTML is read (for content mounted after the
	// page's initial stability window, e.g. infinite-scroll galleries).
	WaitSelector string `mapstructure:"wait_selector" yaml:"wait_selector" json:"wait_selector,omitempty"`
}

// RedditAdapterConfig is the adapter-specific config for a reddit source.
type RedditAdapterConfig struct {
	Subreddit       string `mapstructure:"subreddit"         yaml:"subreddit"         json:"subreddit"`
	LatestPage      int    `mapstructure:"latest_page"       yaml:"latest_page"       json:"latest_page,omitempty"`
}

// RedGifsAdapterConfig is the adapter-specific config for a redgifs source.
type RedGifsAdapterConfig struct {
	Username string `mapstructure:"username" yaml:"username" json:"username"`
}

// Source is an origin site monitored by the ingestion engine.
type Source struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	BaseURL           string              `json:"base_url"`
	AdapterKind       AdapterKind         `json:"adapter_kind"`
	RateLimit         RateLimitConfig     `json:"rate_limit"`
	HTMLConfig        *HTMLAdapterConfig  `json:"html_config,omitempty"`
	RedditConfig      *RedditAdapterConfig `json:"reddit_config,omitempty"`
	RedGifsConfig     *RedGifsAdapterConfig `json:"redgifs_config,omitempty"`
	UserAgent         string              `json:"user_agent,omitempty"`
	ExtraHeaders      map[string]string   `json:"extra_headers,omitempty"`
	Enabled           bool                `json:"enabled"`
}

// Thread is a specific feed within a source (a subreddit, a gallery, a board path).
type Thread struct {
	ID         string  `json:"id"`
	SourceID   string  `json:"source_id"`
	ExternalID string  `json:"external_id"`
	URL        string  `json:"url"`
	Priority   int     `json:"priority"` // 0..10
	Enabled    bool    `json:"enabled"`
	DeletedAt  *string `json:"deleted_at,omitempty"`
}
