package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/taskilo/api/internal/domain"
)

func TestDraftSweeper_DeletesExpiredPendingDrafts(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	paid := pendingDraft("paid", now.Add(-time.Hour))
	paid.Status = domain.DraftStatusPaid
	drafts := newMemDraftRepository(
		pendingDraft("old_1", now.Add(-2*time.Hour)),
		pendingDraft("old_2", now.Add(-time.Minute)),
		pendingDraft("fresh", now.Add(time.Minute)),
		paid,
	)
	sweeper, err := NewDraftSweeper(DraftSweeperDeps{Drafts: drafts, Clock: func() time.Time { return now }, BatchSize: 50})
	if err != nil {
		t.Fatalf("NewDraftSweeper error: %v", err)
	}

	result, err := sweeper.Sweep(context.Background(), SweepDraftsCommand{BatchSize: 500})
	if err != nil {
		t.Fatalf("Sweep error: %v", err)
	}
	if result.Scanned != 2 || result.Deleted != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if drafts.listLimit != 50 || !drafts.listCutoff.Equal(now) {
		t.Fatalf("expected capped batch and clock cutoff, got %d at %s", drafts.listLimit, drafts.listCutoff)
	}
	for _, id := range []string{"fresh", "paid"} {
		if _, ok := drafts.get(id); !ok {
			t.Fatalf("expected %s to survive", id)
		}
	}
}

func TestDraftSweeper_NothingToDelete(t *testing.T) {
	drafts := newMemDraftRepository()
	sweeper, err := NewDraftSweeper(DraftSweeperDeps{Drafts: drafts})
	if err != nil {
		t.Fatalf("NewDraftSweeper error: %v", err)
	}
	result, err := sweeper.Sweep(context.Background(), SweepDraftsCommand{Now: time.Now()})
	if err != nil || result.Scanned != 0 || drafts.deleteCalls != 0 {
		t.Fatalf("expected no-op sweep, got %+v (%v) after %d deletes", result, err, drafts.deleteCalls)
	}
}

func TestDraftSweeper_DeleteFailure(t *testing.T) {
	now := time.Now()
	drafts := newMemDraftRepository(pendingDraft("old", now.Add(-time.Hour)))
	drafts.deleteErr = errors.New("bulk writer failed")
	sweeper, err := NewDraftSweeper(DraftSweeperDeps{Drafts: drafts})
	if err != nil {
		t.Fatalf("NewDraftSweeper error: %v", err)
	}
	if _, err := sweeper.Sweep(context.Background(), SweepDraftsCommand{Now: now}); err == nil {
		t.Fatalf("expected delete failure")
	}
}
