package search

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"qsearch/internal/middleware"
	"qsearch/internal/retrieval"
)

const (
	defaultLimit = 5
	minLimit     = 1
	maxLimit     = 100
)

type Handler struct {
	service *retrieval.Service
}

func NewHandler(s *retrieval.Service) *Handler {
	return &Handler{service: s}
}

type searchRequest struct {
	Query          string         `json:"query"`
	Limit          *int           `json:"limit,omitempty"`
	ScoreThreshold *float32       `json:"score_threshold,omitempty"`
	Filters        map[string]any `json:"filters,omitempty"`
}

type searchResponse struct {
	Query   string             `json:"query"`
	Count   int                `json:"count"`
	Results []retrieval.Result `json:"results"`
}

// Search handles POST /api/v1/search. Invalid parameters are rejected
// before the store is touched; an empty result set is a 200.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, "INVALID_JSON", "request body must be valid JSON", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		h.writeError(w, r, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	limit := defaultLimit
	if req.Limit != nil {
		limit = *req.Limit
		if limit < minLimit || limit > maxLimit {
			h.writeError(w, r, "VALIDATION_ERROR", "limit must be between 1 and 100", http.StatusBadRequest)
			return
		}
	}
	if req.ScoreThreshold != nil {
		if *req.ScoreThreshold < 0 || *req.ScoreThreshold > 1 {
			h.writeError(w, r, "VALIDATION_ERROR", "score_threshold must be between 0 and 1", http.StatusBadRequest)
			return
		}
	}

	results, err := h.service.Search(ctx, req.Query, retrieval.Options{
		Limit:          limit,
		ScoreThreshold: req.ScoreThreshold,
		Filters:        req.Filters,
	})
	if err != nil {
		slog.ErrorContext(ctx, "search failed", "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "search failed", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []retrieval.Result{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := searchResponse{Query: req.Query, Count: len(results), Results: results}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(r.Context()),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
