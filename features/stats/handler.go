package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"qsearch/internal/jobstatus"
)

type JobCounter interface {
	CountByState(ctx context.Context) (map[jobstatus.State]int, error)
}

type PointCounter interface {
	CountPoints(ctx context.Context) (uint64, error)
}

type Handler struct {
	jobs   JobCounter
	points PointCounter
}

func NewHandler(jobs JobCounter, points PointCounter) *Handler {
	return &Handler{jobs: jobs, points: points}
}

// GetStats handles GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.jobs.CountByState(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		http.Error(w, `{"error":"failed to load stats"}`, http.StatusInternalServerError)
		return
	}

	jobCounts := make(map[string]int, len(counts))
	for state, n := range counts {
		jobCounts[string(state)] = n
	}

	// Point count is best effort; the store being briefly unreachable
	// should not hide job stats.
	var points uint64
	if n, err := h.points.CountPoints(ctx); err != nil {
		slog.WarnContext(ctx, "failed to count points", "error", err)
	} else {
		points = n
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"jobs":   jobCounts,
		"points": points,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}
