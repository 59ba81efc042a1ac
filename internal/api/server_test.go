package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ingestd/mediaforge/internal/scheduler"
)

// fakeScheduler substitutes for *scheduler.Scheduler in tests: it is backed
// by asynq/redis, same problem as everywhere else in this codebase, solved
// the same way with a narrow interface and an in-memory fake.
type fakeScheduler struct {
	triggerAllErr   error
	triggerOneErr   error
	pauseErr        error
	resumeErr       error
	statsErr        error
	stats           scheduler.QueueStats
	lastTriggered   string
	triggeredAll    bool
	paused, resumed bool
}

func (f *fakeScheduler) TriggerAll(ctx context.Context) error {
	f.triggeredAll = true
	return f.triggerAllErr
}

func (f *fakeScheduler) TriggerOne(ctx context.Context, threadID string) error {
	f.lastTriggered = threadID
	return f.triggerOneErr
}

func (f *fakeScheduler) Pause() error {
	f.paused = true
	return f.pauseErr
}

func (f *fakeScheduler) Resume() error {
	f.resumed = true
	return f.resumeErr
}

func (f *fakeScheduler) Stats() (scheduler.QueueStats, error) {
	return f.stats, f.statsErr
}

type fakeStateReporter map[string]string

func (f fakeStateReporter) Snapshot() map[string]string { return f }

type fakeTokenReporter map[string]float64

func (f fakeTokenReporter) Snapshot() map[string]float64 { return f }

func testServer(sched SchedulerControl, breakers StateReporter, limiters TokenReporter) *Server {
	return NewServer(":0", sched, breakers, limiters, slog.Default())
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decode body %q: %v", body, err)
	}
}

func TestHealthReturnsOK(t *testing.T) {
	s := testServer(nil, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTriggerAllCallsScheduler(t *testing.T) {
	fake := &fakeScheduler{}
	s := testServer(fake, nil, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/trigger")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !fake.triggeredAll {
		t.Fatal("expected TriggerAll to be called")
	}
}

func TestTriggerOnePassesThreadIDFromPath(t *testing.T) {
	fake := &fakeScheduler{}
	s := testServer(fake, nil, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/trigger/thread-42")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fake.lastTriggered != "thread-42" {
		t.Fatalf("lastTriggered = %q", fake.lastTriggered)
	}
}

func TestTriggerAllWithoutSchedulerReturns503(t *testing.T) {
	s := testServer(nil, nil, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/trigger")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTriggerAllSchedulerErrorReturns500(t *testing.T) {
	fake := &fakeScheduler{triggerAllErr: errors.New("redis down")}
	s := testServer(fake, nil, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/trigger")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPauseAndResume(t *testing.T) {
	fake := &fakeScheduler{}
	s := testServer(fake, nil, nil)

	if rec := doRequest(t, s, http.MethodPost, "/api/pause"); rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	if !fake.paused {
		t.Fatal("expected Pause to be called")
	}

	if rec := doRequest(t, s, http.MethodPost, "/api/resume"); rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}
	if !fake.resumed {
		t.Fatal("expected Resume to be called")
	}
}

func TestQueueStatsReturnsSchedulerStats(t *testing.T) {
	fake := &fakeScheduler{stats: scheduler.QueueStats{
		Ingestion: scheduler.QueueCounts{Waiting: 3, Active: 1},
	}}
	s := testServer(fake, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/queue/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got scheduler.QueueStats
	decodeBody(t, rec, &got)
	if got.Ingestion.Waiting != 3 || got.Ingestion.Active != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestBreakerStateReturnsSnapshot(t *testing.T) {
	s := testServer(nil, fakeStateReporter{"source-1": "open"}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/breakers")
	var got map[string]string
	decodeBody(t, rec, &got)
	if got["source-1"] != "open" {
		t.Fatalf("got %v", got)
	}
}

func TestBreakerStateWithNilReporterReturnsEmptyMap(t *testing.T) {
	s := testServer(nil, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/breakers")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]string
	decodeBody(t, rec, &got)
	if len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestLimiterStateReturnsSnapshot(t *testing.T) {
	s := testServer(nil, nil, fakeTokenReporter{"source-1": 4.5})
	rec := doRequest(t, s, http.MethodGet, "/api/limiters")
	var got map[string]float64
	decodeBody(t, rec, &got)
	if got["source-1"] != 4.5 {
		t.Fatalf("got %v", got)
	}
}
