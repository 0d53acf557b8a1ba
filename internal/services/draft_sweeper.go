package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskilo/api/internal/repositories"
)

const defaultSweepBatchSize = 200

// DraftSweeperDeps defines the dependencies for the expired draft sweeper.
type DraftSweeperDeps struct {
	Drafts    repositories.DraftRepository
	Clock     func() time.Time
	BatchSize int
	Logger    func(context.Context, string, map[string]any)
}

type draftSweeper struct {
	drafts    repositories.DraftRepository
	clock     func() time.Time
	batchSize int
	logger    func(context.Context, string, map[string]any)
}

var _ DraftSweeper = (*draftSweeper)(nil)

// NewDraftSweeper constructs the expired draft cleanup.
func NewDraftSweeper(deps DraftSweeperDeps) (DraftSweeper, error) {
	if deps.Drafts == nil {
		return nil, errors.New("draft sweeper: draft repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatchSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &draftSweeper{
		drafts: deps.Drafts,
		clock: func() time.Time {
			return clock().UTC()
		},
		batchSize: batch,
		logger:    logger,
	}, nil
}

// Sweep deletes pending drafts that expired before cmd.Now, one batch per call.
func (s *draftSweeper) Sweep(ctx context.Context, cmd SweepDraftsCommand) (SweepDraftsResult, error) {
	now := cmd.Now
	if now.IsZero() {
		now = s.clock()
	}
	batch := cmd.BatchSize
	if batch <= 0 || batch > s.batchSize {
		batch = s.batchSize
	}

	ids, err := s.drafts.ListExpired(ctx, now.UTC(), batch)
	if err != nil {
		return SweepDraftsResult{}, fmt.Errorf("draft sweeper: list expired: %w", err)
	}
	result := SweepDraftsResult{Scanned: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	deleted, err := s.drafts.DeleteMany(ctx, ids)
	result.Deleted = deleted
	if err != nil {
		return result, fmt.Errorf("draft sweeper: delete: %w", err)
	}
	s.logger(ctx, "drafts.swept", map[string]any{
		"scanned": result.Scanned,
		"deleted": result.Deleted,
	})
	return result, nil
}
