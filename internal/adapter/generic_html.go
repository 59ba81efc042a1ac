package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/araddon/dateparse"

	"github.com/ingestd/mediaforge/internal/dedup"
	"github.com/ingestd/mediaforge/internal/types"
)

// GenericHTML scrapes a forum/gallery-style site through configured CSS
// selectors, supporting query, path, and offset pagination styles.
type GenericHTML struct {
	source *types.Source
	cfg    types.HTMLAdapterConfig
}

// NewGenericHTML builds a generic-html Adapter for source.
func NewGenericHTML(source *types.Source) *GenericHTML {
	return &GenericHTML{source: source, cfg: *source.HTMLConfig}
}

func (a *GenericHTML) Name() string { return a.source.Name }

func (a *GenericHTML) headers() map[string]string {
	h := map[string]string{}
	for k, v := range a.source.ExtraHeaders {
		h[k] = v
	}
	if a.source.UserAgent != "" {
		h["User-Agent"] = a.source.UserAgent
	}
	return h
}

// fetchPage retrieves one page's body, routing through the shared headless
// browser when the source is configured with render_js and through the
// plain HTTP client otherwise.
func (a *GenericHTML) fetchPage(ctx context.Context, pageURL string) ([]byte, int, error) {
	if !a.cfg.RenderJS {
		return fetch(ctx, pageURL, a.headers())
	}
	renderer, err := getBrowserRenderer(slog.Default())
	if err != nil {
		return nil, 0, fmt.Errorf("acquire browser renderer: %w", err)
	}
	body, err := renderer.render(ctx, pageURL, a.source.UserAgent, a.cfg.WaitSelector)
	if err != nil {
		return nil, 0, err
	}
	return body, 200, nil
}

// Validate issues a single probe fetch of page 1 and confirms the item
// container selector matches at least once.
func (a *GenericHTML) Validate(ctx context.Context) error {
	body, status, err := a.fetchPage(ctx, a.pageURL(1))
	if err != nil {
		return &types.FetchError{URL: a.source.BaseURL, Err: err, Retryable: true}
	}
	if status >= 400 {
		return &types.FetchError{URL: a.source.BaseURL, StatusCode: status, Retryable: status >= 500}
	}
	posts, err := a.itemSelections(body)
	if err != nil {
		return fmt.Errorf("parse validation page: %w", err)
	}
	if len(posts) == 0 {
		return fmt.Errorf("item_container selector %q matched nothing", a.cfg.Selectors.ItemContainer)
	}
	return nil
}

// GetLatestPage derives the highest page number either from an explicit
// pagination selector or by scanning links for "/page-N" or "?page=N" and
// taking the max.
func (a *GenericHTML) GetLatestPage(ctx context.Context) (LatestPageInfo, error) {
	body, status, err := a.fetchPage(ctx, a.pageURL(1))
	if err != nil {
		return LatestPageInfo{}, &types.FetchError{URL: a.source.BaseURL, Err: err, Retryable: true}
	}
	if status >= 400 {
		return LatestPageInfo{}, &types.FetchError{URL: a.source.BaseURL, StatusCode: status, Retryable: status >= 500}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return LatestPageInfo{}, fmt.Errorf("parse page 1: %w", err)
	}

	latest := 1
	if a.cfg.Selectors.Pagination != "" {
		doc.Find(a.cfg.Selectors.Pagination).Each(func(_ int, sel *goquery.Selection) {
			if n, ok := extractPageNumber(strings.TrimSpace(sel.Text())); ok && n > latest {
				latest = n
			}
			if href, exists := sel.Attr("href"); exists {
				if n, ok := extractPageNumber(href); ok && n > latest {
					latest = n
				}
			}
		})
	} else {
		doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			if n, ok := extractPageNumber(href); ok && n > latest {
				latest = n
			}
		})
	}

	return LatestPageInfo{LatestPage: latest}, nil
}

var pageNumberPattern = regexp.MustCompile(`(?:page[-=]|offset=)(\d+)`)

func extractPageNumber(s string) (int, bool) {
	m := pageNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ScanPage fetches and parses one page, expanding multi-image posts into
// one scraped item per image.
func (a *GenericHTML) ScanPage(ctx context.Context, pageNumber int) (PageResult, error) {
	body, status, err := a.fetchPage(ctx, a.pageURL(pageNumber))
	if err != nil {
		return PageResult{}, &types.FetchError{URL: a.pageURL(pageNumber), Err: err, Retryable: true}
	}
	if status == 429 {
		return PageResult{}, &types.FetchError{URL: a.pageURL(pageNumber), StatusCode: status, Retryable: true, RetryAfter: 5 * time.Second}
	}
	if status >= 400 {
		return PageResult{}, &types.FetchError{URL: a.pageURL(pageNumber), StatusCode: status, Retryable: status >= 500}
	}

	posts, err := a.itemSelections(body)
	if err != nil {
		return PageResult{}, fmt.Errorf("select item nodes on page %d: %w", pageNumber, err)
	}

	var items []types.ScrapedItem
	for i, post := range posts {
		items = append(items, a.extractItem(post, i, pageNumber)...)
	}

	if !a.cfg.NewestFirst {
		reverseItems(items)
	}

	return PageResult{Items: items, PageNumber: pageNumber, HasMore: pageNumber > 1}, nil
}

// itemSelections returns one *goquery.Selection per matched item container.
// In the default css mode this is a plain doc.Find; in xpath mode,
// ItemContainer is evaluated as an XPath expression via antchfx/htmlquery
// and each matched node is re-parsed into its own goquery document so the
// rest of the field extraction (CSS selectors run against each item) is
// unchanged between modes.
func (a *GenericHTML) itemSelections(body []byte) ([]*goquery.Selection, error) {
	if a.cfg.SelectorMode == types.SelectorModeXPath {
		root, err := htmlquery.Parse(strings.NewReader(string(body)))
		if err != nil {
			return nil, fmt.Errorf("parse html for xpath: %w", err)
		}
		nodes, err := htmlquery.QueryAll(root, a.cfg.Selectors.ItemContainer)
		if err != nil {
			return nil, fmt.Errorf("evaluate item_container xpath %q: %w", a.cfg.Selectors.ItemContainer, err)
		}
		sels := make([]*goquery.Selection, 0, len(nodes))
		for _, n := range nodes {
			itemDoc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlquery.OutputHTML(n, true)))
			if err != nil {
				continue
			}
			sels = append(sels, itemDoc.Selection)
		}
		return sels, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	var sels []*goquery.Selection
	doc.Find(a.cfg.Selectors.ItemContainer).Each(func(_ int, post *goquery.Selection) {
		sels = append(sels, post)
	})
	return sels, nil
}

// extractItem builds zero or more ScrapedItems from one matched post node
// (more than one when the post embeds a multi-image gallery).
func (a *GenericHTML) extractItem(post *goquery.Selection, i, pageNumber int) []types.ScrapedItem {
	sel := a.cfg.Selectors
	externalID := firstNonEmpty(attrOrText(post, sel.ExternalID), fmt.Sprintf("%s-p%d-%d", a.source.ID, pageNumber, i))
	permalink := resolveURL(a.source.BaseURL, attrOrHref(post, sel.Permalink))
	author := attrOrText(post, sel.Author)
	authorURL := resolveURL(a.source.BaseURL, attrOrHref(post, sel.AuthorURL))
	title := attrOrText(post, sel.Title)
	caption := attrOrText(post, sel.Caption)
	postedAt := parseTimestamp(attrOrText(post, sel.Timestamp))
	tags := splitTags(attrOrText(post, sel.Tags))

	mediaURLs := distinctURLs(resolveAll(a.source.BaseURL, collectAttrOrSrc(post, sel.MediaURL)))
	if len(mediaURLs) == 0 {
		return nil
	}
	thumbnail := resolveURL(a.source.BaseURL, attrOrSrc(post, sel.ThumbnailURL))

	items := make([]types.ScrapedItem, 0, len(mediaURLs))
	for imgIdx, mediaURL := range mediaURLs {
		id := externalID
		if len(mediaURLs) > 1 {
			id = fmt.Sprintf("%s-img-%d", externalID, imgIdx)
		}
		items = append(items, types.ScrapedItem{
			ExternalID:   id,
			Permalink:    permalink,
			PostedAt:     postedAt,
			Author:       author,
			AuthorURL:    authorURL,
			Title:        title,
			Caption:      caption,
			MediaType:    dedup.InferMediaType(mediaURL, ""),
			MediaURL:     mediaURL,
			ThumbnailURL: thumbnail,
			Tags:         tags,
		})
	}
	return items
}

// pageURL builds the page URL for the configured pagination style.
func (a *GenericHTML) pageURL(page int) string {
	switch a.cfg.PaginationStyle {
	case types.PaginationPath:
		if page <= 1 {
			return a.cfg.URLPattern
		}
		if strings.Contains(a.cfg.URLPattern, "{page}") {
			return strings.ReplaceAll(a.cfg.URLPattern, "{page}", strconv.Itoa(page))
		}
		return strings.TrimSuffix(a.cfg.URLPattern, "/") + fmt.Sprintf("/page-%d", page)
	case types.PaginationOffset:
		perPage := a.cfg.ItemsPerPage
		if perPage <= 0 {
			perPage = 20
		}
		return appendQueryParam(a.cfg.URLPattern, "offset", strconv.Itoa((page-1)*perPage))
	default: // query
		if page <= 1 {
			return a.cfg.URLPattern
		}
		param := a.cfg.PageParam
		if param == "" {
			param = "page"
		}
		return appendQueryParam(a.cfg.URLPattern, param, strconv.Itoa(page))
	}
}

func appendQueryParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + key + "=" + value
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func attrOrText(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	node := sel.Find(selector)
	if node.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(node.First().Text())
}

func attrOrHref(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	node := sel.Find(selector)
	if href, ok := node.Attr("href"); ok {
		return href
	}
	return strings.TrimSpace(node.Text())
}

func attrOrSrc(sel *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	node := sel.Find(selector)
	if src, ok := node.Attr("src"); ok {
		return src
	}
	if href, ok := node.Attr("href"); ok {
		return href
	}
	return ""
}

func collectAttrOrSrc(sel *goquery.Selection, selector string) []string {
	if selector == "" {
		return nil
	}
	var urls []string
	sel.Find(selector).Each(func(_ int, node *goquery.Selection) {
		if src, ok := node.Attr("src"); ok && src != "" {
			urls = append(urls, src)
			return
		}
		if href, ok := node.Attr("href"); ok && href != "" {
			urls = append(urls, href)
		}
	})
	return urls
}

func resolveURL(base, ref string) string {
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func resolveAll(base string, refs []string) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = resolveURL(base, r)
	}
	return out
}

// distinctURLs drops duplicate media URLs within a single post, preserving
// first-seen order, per spec §4.4's gallery-expansion dedup rule.
func distinctURLs(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '|' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func reverseItems(items []types.ScrapedItem) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

var relativeTimePattern = regexp.MustCompile(`(?i)^(\d+)\s*(second|minute|hour|day|week|month|year)s?\s+ago$`)

// parseTimestamp recognizes ISO8601, Unix seconds, Unix milliseconds, and
// natural-language relative timestamps ("3 hours ago"), per spec §4.4.
func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	if m := relativeTimePattern.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		return time.Now().Add(-relativeUnitDuration(m[2], n))
	}

	if unixSec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		switch {
		case unixSec > 1e14: // microseconds, defensive
			return time.UnixMicro(unixSec)
		case unixSec > 1e11: // milliseconds
			return time.UnixMilli(unixSec)
		default:
			return time.Unix(unixSec, 0)
		}
	}

	if t, err := dateparse.ParseAny(raw); err == nil {
		return t
	}

	return time.Time{}
}

func relativeUnitDuration(unit string, n int) time.Duration {
	switch unit {
	case "second":
		return time.Duration(n) * time.Second
	case "minute":
		return time.Duration(n) * time.Minute
	case "hour":
		return time.Duration(n) * time.Hour
	case "day":
		return time.Duration(n) * 24 * time.Hour
	case "week":
		return time.Duration(n) * 7 * 24 * time.Hour
	case "month":
		return time.Duration(n) * 30 * 24 * time.Hour
	case "year":
		return time.Duration(n) * 365 * 24 * time.Hour
	default:
		return 0
	}
}
