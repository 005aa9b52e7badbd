package exclusion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"kbase/internal/kberr"
	"kbase/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Exclude(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityType string `json:"entity_type"`
		EntityID   string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, kberr.Validation("invalid request body"))
		return
	}

	rule := Rule{EntityType: req.EntityType, EntityID: req.EntityID}
	if err := h.service.Exclude(r.Context(), rule); err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Content excluded from the knowledge base.",
	})
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	applied, err := h.service.Cleanup(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Re-applied %d exclusion rules.", applied),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, status := "INTERNAL_ERROR", http.StatusInternalServerError
	if kberr.KindOf(err) == kberr.KindValidation {
		code, status = "VALIDATION_ERROR", http.StatusBadRequest
	} else {
		slog.ErrorContext(ctx, "exclusion request failed", "error", err)
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
