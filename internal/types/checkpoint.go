package types

import "time"

// CatchUpReason names why a run was truncated mid-scan.
type CatchUpReason string

const (
	ReasonPageCap CatchUpReason = "page_cap"
	ReasonTimeout CatchUpReason = "timeout"
	ReasonError   CatchUpReason = "error"
)

// CatchUpCursor is the partial-run resume marker saved when a scan is
// truncated by a time or item cap.
type CatchUpCursor struct {
	CurrentPage    int           `json:"current_page"`
	StartedAt      time.Time     `json:"started_at"`
	ItemsIngested  int           `json:"items_ingested"`
	Reason         CatchUpReason `json:"reason"`
}

// Checkpoint is the persistent per-thread cursor recording the newest item
// seen, plus catch-up and failure-cooldown state.
type Checkpoint struct {
	ThreadID            string         `json:"thread_id"`
	LastSeenItemID      string         `json:"last_seen_item_id,omitempty"`
	LastSeenFingerprint string         `json:"last_seen_fingerprint,omitempty"`
	LastSeenTimestamp   *time.Time     `json:"last_seen_timestamp,omitempty"`
	LastSeenPage        int            `json:"last_seen_page,omitempty"`
	CatchUpCursor       *CatchUpCursor `json:"catch_up_cursor,omitempty"`
	LastRunAt           *time.Time     `json:"last_run_at,omitempty"`
	LastSuccessAt       *time.Time     `json:"last_success_at,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
}

// CompareStatus is the result of comparing a scraped item against a checkpoint.
type CompareStatus string

const (
	CompareNew   CompareStatus = "new"
	CompareSeen  CompareStatus = "seen"
	CompareOlder CompareStatus = "older"
)

// CompareResult carries the status and, for "seen", which field matched.
type CompareResult struct {
	Status CompareStatus
	By     string // "id" | "fingerprint", populated when Status == CompareSeen
	Reason string // populated when Status == CompareOlder
}

// RunStatus is the lifecycle status of an ingest run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunPartial  RunStatus = "partial"
	RunCaughtUp RunStatus = "caught_up"
	RunFailed   RunStatus = "failed"
)

// IngestRun is the audit record for one execution of the scanner on one thread.
type IngestRun struct {
	ID               string     `json:"id"`
	ThreadID         string     `json:"thread_id"`
	Status           RunStatus  `json:"status"`
	ItemsNew         int        `json:"items_new"`
	ItemsDuplicate   int        `json:"items_duplicate"`
	ItemsFailed      int        `json:"items_failed"`
	PagesScanned     int        `json:"pages_scanned"`
	CheckpointBefore *Checkpoint `json:"checkpoint_before,omitempty"`
	CheckpointAfter  *Checkpoint `json:"checkpoint_after,omitempty"`
	ErrorSummary     string     `json:"error_summary,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
}
