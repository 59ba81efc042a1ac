// Package persist implements idempotent media-item persistence (C8):
// blocklist and duration-cap checks, upsert with conflict-do-nothing, asset
// insertion, and optional CDN pre-caching.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/ingestd/mediaforge/internal/dedup"
	"github.com/ingestd/mediaforge/internal/types"
)

// MaxVideoDurationMs is the commit-time duration cap for video/gif items;
// distinct from scan.Config.MaxDurationMs, which bounds validity at scrape
// time (spec §4.5 vs §4.8 apply two different caps, exercised independently).
const MaxVideoDurationMs = 30_000

// Counters is commit_items' return value.
type Counters struct {
	Inserted   int
	Duplicates int
	Failed     int
}

// CDNUploader uploads a fetched media blob to an object store, returning
// its public URL. Implemented by cdn.S3Uploader; kept as an interface so
// Store works with CDN pre-caching disabled.
type CDNUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (publicURL string, err error)
}

// Store persists media items and assets to Postgres, optionally pre-caching
// originals/thumbnails to a CDN-backed object store and archiving a raw copy
// of every processed item to a secondary document store.
type Store struct {
	db        *pgxpool.Pool
	cdn       CDNUploader
	archiver  Archiver
	allowlist []string
	logger    *slog.Logger
}

// NewStore connects to Postgres and ensures the media schema exists. cdn
// and archiver may both be nil, disabling CDN pre-caching and the secondary
// archive sink respectively. allowlist restricts which hosts CDN
// pre-caching will fetch from (and follow redirects into); an empty
// allowlist permits any host.
func NewStore(ctx context.Context, dbURL string, cdn CDNUploader, archiver Archiver, allowlist []string, logger *slog.Logger) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse persistence db url: %w", err)
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect persistence db: %w", err)
	}

	s := &Store{db: pool, cdn: cdn, archiver: archiver, allowlist: allowlist, logger: logger.With("component", "persist_store")}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS media_items (
			id               TEXT PRIMARY KEY,
			thread_id        TEXT NOT NULL,
			external_item_id TEXT NOT NULL,
			fingerprint      TEXT NOT NULL,
			permalink        TEXT NOT NULL,
			posted_at        TIMESTAMPTZ NOT NULL,
			author           TEXT,
			title            TEXT,
			caption          TEXT,
			media_type       TEXT NOT NULL,
			media_urls       JSONB NOT NULL,
			duration_ms      BIGINT,
			width            INT,
			height           INT,
			tags             TEXT[],
			upvotes          INT NOT NULL DEFAULT 0,
			comment_count    INT NOT NULL DEFAULT 0,
			is_moderated     BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (thread_id, external_item_id)
		);
		CREATE TABLE IF NOT EXISTS media_assets (
			id            TEXT PRIMARY KEY,
			media_item_id TEXT NOT NULL REFERENCES media_items(id) ON DELETE CASCADE,
			position      INT NOT NULL,
			url           TEXT NOT NULL,
			type          TEXT NOT NULL,
			width         INT,
			height        INT,
			duration_ms   BIGINT,
			UNIQUE (media_item_id, url)
		);
		CREATE TABLE IF NOT EXISTS blocked_media (
			thread_id        TEXT NOT NULL,
			external_item_id TEXT NOT NULL,
			PRIMARY KEY (thread_id, external_item_id)
		)`
	_, err := s.db.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("ensure persist schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// CommitItems persists items one at a time, each independently, per spec
// §4.8. A single item's failure never aborts the rest of the batch.
func (s *Store) CommitItems(ctx context.Context, threadID string, items []types.ScrapedItem) Counters {
	var counters Counters
	for _, item := range items {
		blocked, err := s.isBlocked(ctx, threadID, item.ExternalID)
		if err != nil {
			s.logger.Error("blocklist check failed", "error", err, "external_id", item.ExternalID)
			counters.Failed++
			s.archive(ctx, threadID, &item, "failed")
			continue
		}
		if blocked {
			counters.Duplicates++
			s.archive(ctx, threadID, &item, "blocked")
			continue
		}

		if isVideoLike(item.MediaType) && item.DurationMs != nil && *item.DurationMs > MaxVideoDurationMs {
			counters.Duplicates++
			s.archive(ctx, threadID, &item, "duplicate")
			continue
		}

		itemID, inserted, err := s.upsertItem(ctx, threadID, &item)
		if err != nil {
			s.logger.Error("upsert media item failed", "error", err, "external_id", item.ExternalID)
			counters.Failed++
			s.archive(ctx, threadID, &item, "failed")
			continue
		}
		if !inserted {
			counters.Duplicates++
			s.archive(ctx, threadID, &item, "duplicate")
			continue
		}
		counters.Inserted++

		if len(item.Assets) > 0 {
			if err := s.upsertAssets(ctx, itemID, item.Assets); err != nil {
				s.logger.Error("upsert assets failed", "error", err, "external_id", item.ExternalID)
			}
		}

		if s.cdn != nil {
			s.precacheToCDN(ctx, itemID, item.MediaURL, item.ThumbnailURL)
		}

		s.archive(ctx, threadID, &item, "inserted")
	}
	return counters
}

// archive writes a best-effort copy of the item to the secondary sink, if
// one is configured. Failures are logged, never propagated — the archive
// is a convenience overflow, not part of the commit's success criteria.
func (s *Store) archive(ctx context.Context, threadID string, item *types.ScrapedItem, outcome string) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(ctx, threadID, item, outcome); err != nil {
		s.logger.Warn("archive write failed", "error", err, "external_id", item.ExternalID)
	}
}

func isVideoLike(t types.MediaType) bool {
	return t == types.MediaVideo || t == types.MediaGif
}

func (s *Store) isBlocked(ctx context.Context, threadID, externalID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM blocked_media WHERE thread_id = $1 AND external_item_id = $2)`,
		threadID, externalID).Scan(&exists)
	return exists, err
}

// upsertItem inserts a new media item, returning the generated row id and
// inserted=false on conflict (an existing row's user-mutable counters are
// left untouched, and its id is not looked up since callers only act on
// freshly inserted rows).
func (s *Store) upsertItem(ctx context.Context, threadID string, item *types.ScrapedItem) (id string, inserted bool, err error) {
	id = uuid.NewString()
	mediaURLs := types.MediaURLs{Original: item.MediaURL, Thumbnail: item.ThumbnailURL}

	var returnedID string
	row := s.db.QueryRow(ctx, `
		INSERT INTO media_items (
			id, thread_id, external_item_id, fingerprint, permalink, posted_at,
			author, title, caption, media_type, media_urls, duration_ms,
			width, height, tags
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (thread_id, external_item_id) DO NOTHING
		RETURNING id`,
		id, threadID, item.ExternalID, item.Fingerprint, item.Permalink, item.PostedAt,
		item.Author, item.Title, item.Caption, string(item.MediaType), mediaURLsJSON(mediaURLs), item.DurationMs,
		item.Width, item.Height, item.Tags)

	if err := row.Scan(&returnedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return returnedID, true, nil
}

func (s *Store) upsertAssets(ctx context.Context, mediaItemID string, assets []types.Asset) error {
	batch := &pgx.Batch{}
	for i, a := range assets {
		batch.Queue(`
			INSERT INTO media_assets (id, media_item_id, position, url, type, width, height)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (media_item_id, url) DO NOTHING`,
			uuid.NewString(), mediaItemID, i, a.URL, string(a.Type), a.Width, a.Height)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range assets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
	}
	return nil
}

func mediaURLsJSON(u types.MediaURLs) []byte {
	b, _ := jsonMarshal(u)
	return b
}

// precacheToCDN uploads the original and thumbnail variants concurrently
// when an uploader is configured, merging the resulting CDN URLs into
// media_urls. A variant's upload failure is logged and never aborts the
// other variant or the caller's commit, per spec §4.8.
func (s *Store) precacheToCDN(ctx context.Context, itemID, original, thumbnail string) {
	var mu sync.Mutex
	update := map[string]string{}

	g, gCtx := errgroup.WithContext(ctx)
	for _, variant := range []struct{ name, rawURL, updateKey string }{
		{"original", original, "cdn_original"},
		{"thumbnail", thumbnail, "cdn_thumbnail"},
	} {
		variant := variant
		if variant.rawURL == "" {
			continue
		}
		g.Go(func() error {
			u, err := s.cacheOne(gCtx, itemID, variant.name, variant.rawURL)
			if err != nil {
				s.logger.Warn("cdn precache failed", "variant", variant.name, "error", err, "item_id", itemID)
				return nil
			}
			mu.Lock()
			update[variant.updateKey] = u
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(update) == 0 {
		return
	}
	patch, _ := jsonMarshal(update)
	_, err := s.db.Exec(ctx, `
		UPDATE media_items SET media_urls = media_urls || $2::jsonb WHERE id = $1`, itemID, patch)
	if err != nil {
		s.logger.Warn("cdn url merge failed", "error", err, "item_id", itemID)
	}
}
