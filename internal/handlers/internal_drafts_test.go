package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskilo/api/internal/services"
)

type stubDraftSweeper struct {
	cmd    services.SweepDraftsCommand
	result services.SweepDraftsResult
	err    error
	calls  int
}

func (s *stubDraftSweeper) Sweep(_ context.Context, cmd services.SweepDraftsCommand) (services.SweepDraftsResult, error) {
	s.calls++
	s.cmd = cmd
	return s.result, s.err
}

type stubJanitor struct {
	released int
	err      error
	limit    int
}

func (s *stubJanitor) CleanupExpired(_ context.Context, _ time.Time, limit int) (int, error) {
	s.limit = limit
	return s.released, s.err
}

func serveSweep(h *InternalHandlers, query string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/internal", h.Routes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/drafts:sweep"+query, nil))
	return rr
}

func TestInternalHandlers_SweepDrafts(t *testing.T) {
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	sweeper := &stubDraftSweeper{result: services.SweepDraftsResult{Scanned: 12, Deleted: 4}}
	janitor := &stubJanitor{released: 2}
	h := NewInternalHandlers(InternalHandlersDeps{
		Sweeper: sweeper,
		Janitor: janitor,
		Clock:   func() time.Time { return now },
	})

	rr := serveSweep(h, "?batchSize=50")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body sweepResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Scanned != 12 || body.Deleted != 4 || body.IdempotencyReleased != 2 {
		t.Fatalf("unexpected response %+v", body)
	}
	if body.RanAt != "2024-06-01T03:00:00Z" {
		t.Fatalf("unexpected ranAt %q", body.RanAt)
	}
	if sweeper.cmd.BatchSize != 50 || !sweeper.cmd.Now.Equal(now) || janitor.limit != 50 {
		t.Fatalf("unexpected sweep command %+v (janitor limit %d)", sweeper.cmd, janitor.limit)
	}
}

func TestInternalHandlers_SweepRejectsInvalidBatch(t *testing.T) {
	for _, query := range []string{"?batchSize=0", "?batchSize=501", "?batchSize=abc"} {
		sweeper := &stubDraftSweeper{}
		rr := serveSweep(NewInternalHandlers(InternalHandlersDeps{Sweeper: sweeper}), query)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
		if sweeper.calls != 0 {
			t.Fatalf("%s: sweeper should not run", query)
		}
	}
}

func TestInternalHandlers_JanitorFailureIsLogged(t *testing.T) {
	var events []string
	h := NewInternalHandlers(InternalHandlersDeps{
		Sweeper: &stubDraftSweeper{result: services.SweepDraftsResult{Scanned: 1}},
		Janitor: &stubJanitor{err: errors.New("deadline")},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})

	rr := serveSweep(h, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(events) != 1 || events[0] != "internal.idempotency_cleanup_failed" {
		t.Fatalf("expected cleanup failure to be logged, got %v", events)
	}
}

func TestInternalHandlers_SweepFailure(t *testing.T) {
	h := NewInternalHandlers(InternalHandlersDeps{Sweeper: &stubDraftSweeper{err: unavailableRepoError{}}})
	rr := serveSweep(h, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
