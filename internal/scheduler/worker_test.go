package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ingestd/mediaforge/internal/adapter"
	"github.com/ingestd/mediaforge/internal/breaker"
	"github.com/ingestd/mediaforge/internal/concurrency"
	"github.com/ingestd/mediaforge/internal/ratelimit"
	"github.com/ingestd/mediaforge/internal/types"
)

type fakeScanRunner struct {
	run *types.IngestRun
	err error
}

func (f *fakeScanRunner) Run(ctx context.Context, source *types.Source, thread *types.Thread, a adapter.Adapter) (*types.IngestRun, error) {
	return f.run, f.err
}

type fakeCatchUpEnqueuer struct {
	calls  []ThreadEntry
	runIDs []string
	err    error
}

func (f *fakeCatchUpEnqueuer) EnqueueCatchUp(entry ThreadEntry, runID string) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, entry)
	f.runIDs = append(f.runIDs, runID)
	return &asynq.TaskInfo{}, nil
}

type fakeAdapterForWorker struct{}

func (fakeAdapterForWorker) Name() string { return "fake" }

func (fakeAdapterForWorker) Validate(ctx context.Context) error { return nil }

func (fakeAdapterForWorker) GetLatestPage(ctx context.Context) (adapter.LatestPageInfo, error) {
	return adapter.LatestPageInfo{}, nil
}

func (fakeAdapterForWorker) ScanPage(ctx context.Context, page int) (adapter.PageResult, error) {
	return adapter.PageResult{}, nil
}

func newTestWorker(t *testing.T, scanner ScanRunner, queue CatchUpEnqueuer) *Worker {
	t.Helper()
	logger := testLogger()
	w := NewWorker(scanner, breaker.NewRegistry(breaker.DefaultConfig(), logger), ratelimit.NewRegistry(logger), concurrency.New(10, logger), queue, logger)
	w.resolveAdapter = func(*types.Source) (adapter.Adapter, error) { return fakeAdapterForWorker{}, nil }
	return w
}

func newIngestTask(t *testing.T, payload IngestPayload) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return asynq.NewTask(TypeIngest, body)
}

func testPayload() IngestPayload {
	return IngestPayload{
		Source: types.Source{ID: "src1", Enabled: true},
		Thread: types.Thread{ID: "t1", SourceID: "src1", Enabled: true},
	}
}

func TestProcessTaskCompleteRunDoesNotEnqueueCatchUp(t *testing.T) {
	scanner := &fakeScanRunner{run: &types.IngestRun{Status: types.RunComplete}}
	enq := &fakeCatchUpEnqueuer{}
	w := newTestWorker(t, scanner, enq)

	if err := w.ProcessTask(context.Background(), newIngestTask(t, testPayload())); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if len(enq.calls) != 0 {
		t.Errorf("expected no catch-up enqueue for a complete run, got %d", len(enq.calls))
	}
}

func TestProcessTaskPartialRunEnqueuesCatchUp(t *testing.T) {
	scanner := &fakeScanRunner{run: &types.IngestRun{Status: types.RunPartial}}
	enq := &fakeCatchUpEnqueuer{}
	w := newTestWorker(t, scanner, enq)

	if err := w.ProcessTask(context.Background(), newIngestTask(t, testPayload())); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if len(enq.calls) != 1 {
		t.Fatalf("expected one catch-up enqueue, got %d", len(enq.calls))
	}
	if enq.calls[0].Thread.ID != "t1" {
		t.Errorf("catch-up enqueued for wrong thread: %s", enq.calls[0].Thread.ID)
	}
}

func TestProcessTaskMalformedPayloadSkipsRetry(t *testing.T) {
	w := newTestWorker(t, &fakeScanRunner{}, &fakeCatchUpEnqueuer{})
	task := asynq.NewTask(TypeIngest, []byte("not json"))

	err := w.ProcessTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("expected asynq.SkipRetry, got %v", err)
	}
}

func TestProcessTaskAdapterResolutionFailureSkipsRetry(t *testing.T) {
	scanner := &fakeScanRunner{}
	w := newTestWorker(t, scanner, &fakeCatchUpEnqueuer{})
	w.resolveAdapter = func(*types.Source) (adapter.Adapter, error) {
		return nil, errors.New("unknown adapter kind")
	}

	err := w.ProcessTask(context.Background(), newIngestTask(t, testPayload()))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("expected asynq.SkipRetry on adapter resolution failure, got %v", err)
	}
}

func TestProcessTaskCircuitOpenSkipsWithoutError(t *testing.T) {
	logger := testLogger()
	registry := breaker.NewRegistry(breaker.Config{FailureThreshold: 1, FailureWindow: 0, ResetTimeout: time.Hour, SuccessThreshold: 1}, logger)
	b := registry.Get("src1")
	_ = b.Execute(func() error { return errors.New("boom") }) // trip the breaker

	scanner := &fakeScanRunner{run: &types.IngestRun{Status: types.RunComplete}}
	enq := &fakeCatchUpEnqueuer{}
	w := NewWorker(scanner, registry, ratelimit.NewRegistry(logger), concurrency.New(10, logger), enq, logger)
	w.resolveAdapter = func(*types.Source) (adapter.Adapter, error) { return fakeAdapterForWorker{}, nil }

	if err := w.ProcessTask(context.Background(), newIngestTask(t, testPayload())); err != nil {
		t.Fatalf("expected nil error when circuit is open, got %v", err)
	}
}

func TestProcessTaskScanRunFailureIsRetryable(t *testing.T) {
	scanner := &fakeScanRunner{err: errors.New("transient fetch error")}
	w := newTestWorker(t, scanner, &fakeCatchUpEnqueuer{})

	err := w.ProcessTask(context.Background(), newIngestTask(t, testPayload()))
	if err == nil {
		t.Fatal("expected scan run error to propagate for asynq's retry logic")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Error("a transient scan error should be retryable, not SkipRetry")
	}
}
