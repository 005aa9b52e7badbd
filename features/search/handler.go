// Package search exposes the retrieval engine over HTTP.
package search

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"kbase/internal/kberr"
	"kbase/internal/middleware"
	"kbase/internal/retrieval"
)

type Handler struct {
	service *retrieval.Service
}

func NewHandler(service *retrieval.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, kberr.Validation("invalid request body"))
		return
	}

	results, err := h.service.Search(r.Context(), req.Query, req.K)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if results == nil {
		results = []retrieval.Result{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": results}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, status := "INTERNAL_ERROR", http.StatusInternalServerError
	if kberr.KindOf(err) == kberr.KindValidation {
		code, status = "VALIDATION_ERROR", http.StatusBadRequest
	} else {
		slog.ErrorContext(ctx, "search request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": kberr.UserMessage(err),
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
