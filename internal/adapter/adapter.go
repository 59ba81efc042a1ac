// Package adapter implements the source-specific plugin contract (C4):
// page addressing, fetch, and normalization to types.ScrapedItem, grounded
// on the teacher's Fetcher/Parser interface split in internal/engine/engine.go.
package adapter

import (
	"context"
	"fmt"

	"github.com/ingestd/mediaforge/internal/types"
)

// LatestPageInfo is the result of an adapter's GetLatestPage probe.
type LatestPageInfo struct {
	LatestPage  int
	TotalPages  *int
	TotalItems  *int
}

// PageResult is one page's worth of normalized items, newest-to-oldest.
type PageResult struct {
	Items       []types.ScrapedItem
	PageNumber  int
	HasMore     bool
	TotalItems  *int
}

// Adapter is implemented by every source-specific plugin. The Scanner (C7)
// treats pages as a dense integer range [1, latest_page] and walks
// downward; each adapter is free to map that abstraction onto whatever
// paging scheme its origin actually uses.
type Adapter interface {
	Name() string
	Validate(ctx context.Context) error
	GetLatestPage(ctx context.Context) (LatestPageInfo, error)
	ScanPage(ctx context.Context, pageNumber int) (PageResult, error)
}

// Factory builds an Adapter for a source, dispatching on AdapterKind.
func Factory(source *types.Source) (Adapter, error) {
	switch source.AdapterKind {
	case types.AdapterGenericHTML:
		if source.HTMLConfig == nil {
			return nil, fmt.Errorf("source %s: adapter_kind=generic-html requires html_config", source.ID)
		}
		return NewGenericHTML(source), nil
	case types.AdapterReddit:
		if source.RedditConfig == nil {
			return nil, fmt.Errorf("source %s: adapter_kind=reddit requires reddit_config", source.ID)
		}
		return NewReddit(source), nil
	case types.AdapterRedGifs:
		if source.RedGifsConfig == nil {
			return nil, fmt.Errorf("source %s: adapter_kind=redgifs requires redgifs_config", source.ID)
		}
		return NewRedGifs(source), nil
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrAdapterNotFound, source.AdapterKind)
	}
}
