package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ingestd/mediaforge/internal/types"
)

// ThreadEntry pairs a thread with its owning source, the unit the poller
// enumerates and the worker executes a scan against.
type ThreadEntry struct {
	Source *types.Source
	Thread *types.Thread
}

// Catalog is the subset of the source/thread registry the scheduler needs:
// the set of currently enabled, non-deleted (source, thread) pairs, plus a
// single-thread lookup for manual triggers.
type Catalog interface {
	ListEnabled(ctx context.Context) ([]ThreadEntry, error)
	Get(ctx context.Context, threadID string) (ThreadEntry, error)
}

// PGCatalog is a Postgres-backed Catalog. Source rows carry adapter-specific
// config as a jsonb blob keyed by adapter_kind, decoded into the matching
// types.*AdapterConfig struct on read.
type PGCatalog struct {
	db *pgxpool.Pool
}

// NewPGCatalog connects to Postgres and ensures the sources/threads schema
// exists.
func NewPGCatalog(ctx context.Context, dbURL string) (*PGCatalog, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect catalog db: %w", err)
	}
	c := &PGCatalog{db: pool}
	if err := c.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *PGCatalog) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS sources (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			base_url       TEXT NOT NULL,
			adapter_kind   TEXT NOT NULL,
			rate_limit     JSONB NOT NULL DEFAULT '{}',
			adapter_config JSONB NOT NULL DEFAULT '{}',
			user_agent     TEXT,
			extra_headers  JSONB,
			enabled        BOOLEAN NOT NULL DEFAULT true
		);
		CREATE TABLE IF NOT EXISTS threads (
			id           TEXT PRIMARY KEY,
			source_id    TEXT NOT NULL REFERENCES sources(id),
			external_id  TEXT NOT NULL,
			url          TEXT NOT NULL,
			priority     INT NOT NULL DEFAULT 0,
			enabled      BOOLEAN NOT NULL DEFAULT true,
			deleted_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS threads_priority_idx ON threads (priority DESC) WHERE deleted_at IS NULL;`
	_, err := c.db.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("ensure catalog schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *PGCatalog) Close() {
	c.db.Close()
}

const selectEntryColumns = `
	s.id, s.name, s.base_url, s.adapter_kind, s.rate_limit, s.adapter_config,
	s.user_agent, s.extra_headers, s.enabled,
	t.id, t.source_id, t.external_id, t.url, t.priority, t.enabled, t.deleted_at`

// ListEnabled returns every (source, thread) pair where both are enabled and
// the thread isn't soft-deleted, ordered by thread priority descending, per
// spec §4.9's poller enumeration rule.
func (c *PGCatalog) ListEnabled(ctx context.Context) ([]ThreadEntry, error) {
	rows, err := c.db.Query(ctx, `
		SELECT `+selectEntryColumns+`
		FROM threads t JOIN sources s ON s.id = t.source_id
		WHERE t.enabled AND s.enabled AND t.deleted_at IS NULL
		ORDER BY t.priority DESC`)
	if err != nil {
		return nil, fmt.Errorf("list enabled threads: %w", err)
	}
	defer rows.Close()

	var entries []ThreadEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get loads a single (source, thread) pair by thread id, used for manual
// per-thread triggers.
func (c *PGCatalog) Get(ctx context.Context, threadID string) (ThreadEntry, error) {
	row := c.db.QueryRow(ctx, `
		SELECT `+selectEntryColumns+`
		FROM threads t JOIN sources s ON s.id = t.source_id
		WHERE t.id = $1`, threadID)

	entry, err := scanEntry(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ThreadEntry{}, fmt.Errorf("thread %s: %w", threadID, err)
		}
		return ThreadEntry{}, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	return entry, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(r scannable) (ThreadEntry, error) {
	var source types.Source
	var thread types.Thread
	var rateLimitRaw, adapterConfigRaw, headersRaw []byte

	if err := r.Scan(
		&source.ID, &source.Name, &source.BaseURL, &source.AdapterKind, &rateLimitRaw, &adapterConfigRaw,
		&source.UserAgent, &headersRaw, &source.Enabled,
		&thread.ID, &thread.SourceID, &thread.ExternalID, &thread.URL, &thread.Priority, &thread.Enabled, &thread.DeletedAt,
	); err != nil {
		return ThreadEntry{}, err
	}

	if len(rateLimitRaw) > 0 {
		if err := json.Unmarshal(rateLimitRaw, &source.RateLimit); err != nil {
			return ThreadEntry{}, fmt.Errorf("decode rate_limit: %w", err)
		}
	}
	if len(headersRaw) > 0 {
		if err := json.Unmarshal(headersRaw, &source.ExtraHeaders); err != nil {
			return ThreadEntry{}, fmt.Errorf("decode extra_headers: %w", err)
		}
	}
	if len(adapterConfigRaw) > 0 && string(adapterConfigRaw) != "{}" {
		switch source.AdapterKind {
		case types.AdapterGenericHTML:
			var cfg types.HTMLAdapterConfig
			if err := json.Unmarshal(adapterConfigRaw, &cfg); err != nil {
				return ThreadEntry{}, fmt.Errorf("decode html adapter_config: %w", err)
			}
			source.HTMLConfig = &cfg
		case types.AdapterReddit:
			var cfg types.RedditAdapterConfig
			if err := json.Unmarshal(adapterConfigRaw, &cfg); err != nil {
				return ThreadEntry{}, fmt.Errorf("decode reddit adapter_config: %w", err)
			}
			source.RedditConfig = &cfg
		case types.AdapterRedGifs:
			var cfg types.RedGifsAdapterConfig
			if err := json.Unmarshal(adapterConfigRaw, &cfg); err != nil {
				return ThreadEntry{}, fmt.Errorf("decode redgifs adapter_config: %w", err)
			}
			source.RedGifsConfig = &cfg
		}
	}

	return ThreadEntry{Source: &source, Thread: &thread}, nil
}

// jobID builds the unique, thread-keyed job id spec §4.9 requires so that
// queue-level deduplication enforces "only one ingestion job per thread at a
// time" regardless of how many poll cycles overlap. The plain ingest id is
// bare thread id on purpose: varying it per enqueue attempt would defeat
// asynq's TaskID conflict dedup, which is the whole point of keying on
// thread id in the first place. The catch-up id is additionally keyed on
// the partial run it follows, so a catch-up job never collides with the
// plain ingest id it must be able to coexist with.
func jobID(threadID string, isCatchUp bool, runID string) string {
	if isCatchUp {
		return fmt.Sprintf("ingest-%s-catchup-%s", threadID, runID)
	}
	return fmt.Sprintf("ingest-%s", threadID)
}
