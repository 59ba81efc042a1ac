package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ingestd/mediaforge/internal/types"
)

const redgifsTokenTTL = 1 * time.Hour

// RedGifs scrapes a user's gifs via the public search endpoint. Scanner
// pages map directly onto RedGifs pages (no reverse mapping, unlike Reddit).
type RedGifs struct {
	source *types.Source
	cfg    types.RedGifsAdapterConfig

	mu         sync.Mutex
	token      string
	tokenFetch time.Time
}

// NewRedGifs builds a redgifs Adapter for source.
func NewRedGifs(source *types.Source) *RedGifs {
	return &RedGifs{source: source, cfg: *source.RedGifsConfig}
}

func (a *RedGifs) Name() string { return a.source.Name }

func (a *RedGifs) Validate(ctx context.Context) error {
	_, err := a.fetchPage(ctx, 1)
	return err
}

func (a *RedGifs) GetLatestPage(ctx context.Context) (LatestPageInfo, error) {
	resp, err := a.fetchPage(ctx, 1)
	if err != nil {
		return LatestPageInfo{}, err
	}
	return LatestPageInfo{LatestPage: resp.Pages, TotalItems: &resp.Total}, nil
}

func (a *RedGifs) ScanPage(ctx context.Context, pageNumber int) (PageResult, error) {
	resp, err := a.fetchPage(ctx, pageNumber)
	if err != nil {
		return PageResult{}, err
	}

	items := make([]types.ScrapedItem, 0, len(resp.Gifs))
	for _, g := range resp.Gifs {
		u := g.URLs.HD
		if u == "" {
			u = g.URLs.SD
		}
		if u == "" {
			continue
		}
		items = append(items, types.ScrapedItem{
			ExternalID:   g.ID,
			Permalink:    fmt.Sprintf("https://www.redgifs.com/watch/%s", g.ID),
			PostedAt:     time.Unix(g.CreateDate, 0),
			Author:       a.cfg.Username,
			MediaType:    types.MediaGif, // always gif, per spec: duration deliberately omitted below
			MediaURL:     u,
			ThumbnailURL: g.URLs.Thumbnail,
			Width:        g.Width,
			Height:       g.Height,
			Tags:         g.Tags,
			// DurationMs intentionally left nil: RedGifs clips would otherwise
			// trip the engine's duration filter, which this adapter's content
			// is exempt from per spec §4.4.
		})
	}

	return PageResult{Items: items, PageNumber: pageNumber, HasMore: pageNumber < resp.Pages, TotalItems: &resp.Total}, nil
}

type redgifsSearchResponse struct {
	Page  int          `json:"page"`
	Pages int          `json:"pages"`
	Total int          `json:"total"`
	Gifs  []redgifsGif `json:"gifs"`
}

type redgifsGif struct {
	ID         string   `json:"id"`
	CreateDate int64    `json:"createDate"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Tags       []string `json:"tags"`
	URLs       struct {
		HD        string `json:"hd"`
		SD        string `json:"sd"`
		Thumbnail string `json:"thumbnail"`
	} `json:"urls"`
}

func (a *RedGifs) fetchPage(ctx context.Context, page int) (*redgifsSearchResponse, error) {
	token, err := a.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	searchURL := fmt.Sprintf("https://api.redgifs.com/v2/users/%s/search?order=new&count=40&page=%d", a.cfg.Username, page)
	body, status, err := fetch(ctx, searchURL, map[string]string{"Authorization": "Bearer " + token})
	if err != nil {
		return nil, &types.FetchError{URL: searchURL, Err: err, Retryable: true}
	}
	if status >= 400 {
		return nil, &types.FetchError{URL: searchURL, StatusCode: status, Retryable: status >= 500}
	}

	var resp redgifsSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode redgifs search response: %w", err)
	}
	return &resp, nil
}

// bearerToken returns a cached temporary token, refreshing it once the
// 1-hour local cache window lapses even though the server issues it for
// roughly 24h — matching spec §4.4's conservative refresh policy.
func (a *RedGifs) bearerToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.token != "" && time.Since(a.tokenFetch) < redgifsTokenTTL {
		token := a.token
		a.mu.Unlock()
		return token, nil
	}
	a.mu.Unlock()

	body, status, err := fetch(ctx, "https://api.redgifs.com/v2/auth/temporary", nil)
	if err != nil {
		return "", &types.FetchError{URL: "https://api.redgifs.com/v2/auth/temporary", Err: err, Retryable: true}
	}
	if status >= 400 {
		return "", &types.FetchError{URL: "https://api.redgifs.com/v2/auth/temporary", StatusCode: status, Retryable: status >= 500}
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &auth); err != nil {
		return "", fmt.Errorf("decode redgifs auth response: %w", err)
	}

	a.mu.Lock()
	a.token = auth.Token
	a.tokenFetch = time.Now()
	a.mu.Unlock()
	return auth.Token, nil
}
