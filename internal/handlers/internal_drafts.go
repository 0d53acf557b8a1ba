package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taskilo/api/internal/platform/httpx"
	"github.com/taskilo/api/internal/services"
)

const maxSweepBatch = 500

// IdempotencyJanitor deletes expired idempotency records.
type IdempotencyJanitor interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// InternalHandlers serves maintenance endpoints invoked by Cloud Scheduler.
type InternalHandlers struct {
	sweeper services.DraftSweeper
	janitor IdempotencyJanitor
	clock   func() time.Time
	logger  func(context.Context, string, map[string]any)
}

// InternalHandlersDeps bundles the maintenance collaborators.
type InternalHandlersDeps struct {
	Sweeper services.DraftSweeper
	// Janitor is optional.
	Janitor IdempotencyJanitor
	Clock   func() time.Time
	Logger  func(context.Context, string, map[string]any)
}

// NewInternalHandlers constructs the scheduler-only maintenance endpoints.
func NewInternalHandlers(deps InternalHandlersDeps) *InternalHandlers {
	h := &InternalHandlers{
		sweeper: deps.Sweeper,
		janitor: deps.Janitor,
		clock:   deps.Clock,
		logger:  deps.Logger,
	}
	if h.clock == nil {
		h.clock = time.Now
	}
	if h.logger == nil {
		h.logger = func(context.Context, string, map[string]any) {}
	}
	return h
}

// Routes registers the endpoints under /internal.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/drafts:sweep", h.sweepDrafts)
}

type sweepResponse struct {
	Scanned             int    `json:"scanned"`
	Deleted             int    `json:"deleted"`
	IdempotencyReleased int    `json:"idempotencyReleased"`
	RanAt               string `json:"ranAt"`
}

func (h *InternalHandlers) sweepDrafts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeper == nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweeper_unavailable", "draft sweeper unavailable", http.StatusServiceUnavailable))
		return
	}

	batch := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("batchSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSweepBatch {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "batchSize must be between 1 and 500", http.StatusBadRequest))
			return
		}
		batch = n
	}

	now := h.clock().UTC()
	result, err := h.sweeper.Sweep(ctx, services.SweepDraftsCommand{Now: now, BatchSize: batch})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := sweepResponse{Scanned: result.Scanned, Deleted: result.Deleted, RanAt: now.Format(time.RFC3339)}
	if h.janitor != nil {
		released, err := h.janitor.CleanupExpired(ctx, now, batch)
		if err != nil {
			h.logger(ctx, "internal.idempotency_cleanup_failed", map[string]any{"error": err.Error()})
		}
		resp.IdempotencyReleased = released
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
