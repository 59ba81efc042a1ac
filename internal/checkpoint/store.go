// Package checkpoint implements the per-thread cursor store (C6): the
// scanner's sole source of truth for "what have we already seen" and "did
// we leave off mid-run", backed by Postgres via jackc/pgx/v5.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ingestd/mediaforge/internal/types"
)

// Store persists Checkpoint rows, one per thread.
type Store struct {
	db *pgxpool.Pool

	// OnFailureCountChanged, if set, mirrors the post-write consecutive
	// failure count out to metrics. Nil by default.
	OnFailureCountChanged func(threadID string, count int)
}

// NewStore connects to Postgres and ensures the checkpoints schema exists.
func NewStore(ctx context.Context, dbURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint db url: %w", err)
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect checkpoint db: %w", err)
	}

	s := &Store{db: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS thread_checkpoints (
			thread_id             TEXT PRIMARY KEY,
			last_seen_item_id     TEXT,
			last_seen_fingerprint TEXT,
			last_seen_timestamp   TIMESTAMPTZ,
			last_seen_page        INT NOT NULL DEFAULT 0,
			catch_up_cursor       JSONB,
			last_run_at           TIMESTAMPTZ,
			last_success_at       TIMESTAMPTZ,
			consecutive_failures  INT NOT NULL DEFAULT 0
		)`
	_, err := s.db.Exec(ctx, ddl)
	if err != nil {
		return fmt.Errorf("ensure checkpoint schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// Get loads a thread's checkpoint, creating a zero-value one on first touch
// per spec §4.6's "get_or_create" semantics.
func (s *Store) Get(ctx context.Context, threadID string) (*types.Checkpoint, error) {
	row := s.db.QueryRow(ctx, `
		SELECT thread_id, last_seen_item_id, last_seen_fingerprint, last_seen_timestamp,
		       last_seen_page, catch_up_cursor, last_run_at, last_success_at, consecutive_failures
		FROM thread_checkpoints WHERE thread_id = $1`, threadID)

	cp, err := scanCheckpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.create(ctx, threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	return cp, nil
}

func (s *Store) create(ctx context.Context, threadID string) (*types.Checkpoint, error) {
	cp := &types.Checkpoint{ThreadID: threadID}
	_, err := s.db.Exec(ctx, `
		INSERT INTO thread_checkpoints (thread_id) VALUES ($1)
		ON CONFLICT (thread_id) DO NOTHING`, threadID)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint %s: %w", threadID, err)
	}
	return cp, nil
}

type row interface {
	Scan(dest ...any) error
}

func scanCheckpoint(r row) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var catchUpRaw []byte
	if err := r.Scan(
		&cp.ThreadID, &cp.LastSeenItemID, &cp.LastSeenFingerprint, &cp.LastSeenTimestamp,
		&cp.LastSeenPage, &catchUpRaw, &cp.LastRunAt, &cp.LastSuccessAt, &cp.ConsecutiveFailures,
	); err != nil {
		return nil, err
	}
	if len(catchUpRaw) > 0 {
		var cursor types.CatchUpCursor
		if err := json.Unmarshal(catchUpRaw, &cursor); err != nil {
			return nil, fmt.Errorf("decode catch_up_cursor: %w", err)
		}
		cp.CatchUpCursor = &cursor
	}
	return &cp, nil
}

// Compare classifies a scraped item against a checkpoint per spec §4.6:
// external-id match first, then fingerprint, then timestamp with a 60s
// skew tolerance.
func Compare(cp *types.Checkpoint, item *types.ScrapedItem) types.CompareResult {
	if cp.LastSeenItemID != "" && item.ExternalID == cp.LastSeenItemID {
		return types.CompareResult{Status: types.CompareSeen, By: "id"}
	}
	if cp.LastSeenFingerprint != "" && item.Fingerprint == cp.LastSeenFingerprint {
		return types.CompareResult{Status: types.CompareSeen, By: "fingerprint"}
	}
	if cp.LastSeenTimestamp != nil {
		skew := cp.LastSeenTimestamp.Sub(item.PostedAt)
		if skew >= 60*time.Second {
			return types.CompareResult{Status: types.CompareOlder, Reason: "posted_at predates last_seen_timestamp beyond skew tolerance"}
		}
	}
	return types.CompareResult{Status: types.CompareNew}
}

// UpdateSuccess records a fully completed run's new high-water mark and
// resets the failure counter.
func (s *Store) UpdateSuccess(ctx context.Context, threadID string, item *types.ScrapedItem, page int) error {
	now := time.Now()
	_, err := s.db.Exec(ctx, `
		UPDATE thread_checkpoints SET
			last_seen_item_id = $2,
			last_seen_fingerprint = $3,
			last_seen_timestamp = $4,
			last_seen_page = $5,
			catch_up_cursor = NULL,
			last_run_at = $6,
			last_success_at = $6,
			consecutive_failures = 0
		WHERE thread_id = $1`,
		threadID, item.ExternalID, item.Fingerprint, item.PostedAt, page, now)
	if err != nil {
		return fmt.Errorf("update checkpoint success %s: %w", threadID, err)
	}
	return nil
}

// SaveCatchUp persists a partial-run resume marker without disturbing the
// existing high-water mark (a catch-up run never regresses last_seen_*).
func (s *Store) SaveCatchUp(ctx context.Context, threadID string, cursor types.CatchUpCursor) error {
	raw, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encode catch_up_cursor: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(ctx, `
		UPDATE thread_checkpoints SET catch_up_cursor = $2, last_run_at = $3
		WHERE thread_id = $1`, threadID, raw, now)
	if err != nil {
		return fmt.Errorf("save catch-up cursor %s: %w", threadID, err)
	}
	return nil
}

// ClearCatchUp drops the catch-up cursor once a catch-up run completes or
// is superseded by a fresh full scan.
func (s *Store) ClearCatchUp(ctx context.Context, threadID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE thread_checkpoints SET catch_up_cursor = NULL WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("clear catch-up cursor %s: %w", threadID, err)
	}
	return nil
}

// UpdateFailure increments the consecutive-failure counter and stamps
// last_run_at, without touching the high-water mark.
func (s *Store) UpdateFailure(ctx context.Context, threadID string) error {
	now := time.Now()
	var count int
	err := s.db.QueryRow(ctx, `
		UPDATE thread_checkpoints SET consecutive_failures = consecutive_failures + 1, last_run_at = $2
		WHERE thread_id = $1
		RETURNING consecutive_failures`, threadID, now).Scan(&count)
	if err != nil {
		return fmt.Errorf("update checkpoint failure %s: %w", threadID, err)
	}
	if s.OnFailureCountChanged != nil {
		s.OnFailureCountChanged(threadID, count)
	}
	return nil
}

// ResetFailures clears the consecutive-failure counter, used by the scanner
// to auto-unblock a thread once its failure cooldown has elapsed.
func (s *Store) ResetFailures(ctx context.Context, threadID string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE thread_checkpoints SET consecutive_failures = 0 WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("reset checkpoint failures %s: %w", threadID, err)
	}
	if s.OnFailureCountChanged != nil {
		s.OnFailureCountChanged(threadID, 0)
	}
	return nil
}

// MaxConsecutiveFailures is the threshold past which a thread is skipped,
// and CooldownWindow how long that skip lasts before auto-unblocking, per
// spec §4.6's should_skip_due_to_failures(checkpoint, max=5).
const MaxConsecutiveFailures = 5

const CooldownWindow = 60 * time.Minute

// ShouldSkipDueToFailures reports whether a thread's failure count has
// crossed the skip threshold AND its last run was within the cooldown
// window; once last_run_at ages past CooldownWindow the thread
// auto-unblocks even without an explicit reset.
func ShouldSkipDueToFailures(cp *types.Checkpoint) bool {
	if cp.ConsecutiveFailures < MaxConsecutiveFailures {
		return false
	}
	return cp.LastRunAt != nil && time.Since(*cp.LastRunAt) < CooldownWindow
}

// StartingPage returns the catch-up cursor's current_page, and false if
// there is none. A false return is not page 1 — it is the spec's "null"
// signal that the scanner must fall back to the adapter's latest_page,
// never silently collapsed to an integer here.
func StartingPage(cp *types.Checkpoint) (page int, ok bool) {
	if cp.CatchUpCursor == nil {
		return 0, false
	}
	return cp.CatchUpCursor.CurrentPage, true
}
