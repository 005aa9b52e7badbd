package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"kbase/internal/middleware"
)

type JobRepo interface {
	Count(ctx context.Context) (int, error)
}

type ExclusionRepo interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	CountChunks(ctx context.Context) (int64, error)
}

type Handler struct {
	jobRepo       JobRepo
	exclusionRepo ExclusionRepo
	vectorStore   VectorStore
}

func NewHandler(j JobRepo, e ExclusionRepo, v VectorStore) *Handler {
	return &Handler{jobRepo: j, exclusionRepo: e, vectorStore: v}
}

type StatsResponse struct {
	Jobs       int   `json:"jobs"`
	Chunks     int64 `json:"chunks"`
	Exclusions int   `json:"exclusions"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobs, err := h.jobRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count jobs", "error", err)
		h.writeError(ctx, w, "failed to count jobs")
		return
	}

	chunks, err := h.vectorStore.CountChunks(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count chunks", "error", err)
		h.writeError(ctx, w, "failed to count chunks")
		return
	}

	exclusions, err := h.exclusionRepo.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count exclusions", "error", err)
		h.writeError(ctx, w, "failed to count exclusions")
		return
	}

	resp := StatsResponse{Jobs: jobs, Chunks: chunks, Exclusions: exclusions}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    "INTERNAL_ERROR",
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
