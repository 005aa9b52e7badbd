package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"kbase/internal/kberr"
	"kbase/internal/middleware"
)

type Handler struct {
	service     *Service
	uploadDir   string
	maxPDFBytes int64
}

func NewHandler(service *Service, uploadDir string, maxPDFBytes int64) *Handler {
	return &Handler{service: service, uploadDir: uploadDir, maxPDFBytes: maxPDFBytes}
}

func (h *Handler) SubmitWeb(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL              string   `json:"url"`
		FollowLinks      bool     `json:"follow_links"`
		IncludePaths     []string `json:"include_paths"`
		ExcludePaths     []string `json:"exclude_paths"`
		IncludeSelectors []string `json:"include_selectors"`
		ExcludeSelectors []string `json:"exclude_selectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, kberr.Validation("invalid request body"))
		return
	}

	j, err := h.service.SubmitWeb(r.Context(), req.URL, Config{
		FollowLinks:      req.FollowLinks,
		IncludePaths:     req.IncludePaths,
		ExcludePaths:     req.ExcludePaths,
		IncludeSelectors: req.IncludeSelectors,
		ExcludeSelectors: req.ExcludeSelectors,
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{"data": j})
}

func (h *Handler) SubmitPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPDFBytes+1<<20)

	if err := r.ParseMultipartForm(h.maxPDFBytes); err != nil {
		h.writeError(r.Context(), w, kberr.Validation("file exceeds the maximum size of %d MB", h.maxPDFBytes>>20))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(r.Context(), w, kberr.Validation("a pdf file upload is required"))
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		h.writeError(r.Context(), w, kberr.Validation("only pdf files are supported"))
		return
	}
	if header.Size > h.maxPDFBytes {
		h.writeError(r.Context(), w, kberr.Validation("file exceeds the maximum size of %d MB", h.maxPDFBytes>>20))
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o750); err != nil {
		slog.ErrorContext(r.Context(), "failed to create upload directory", "error", err)
		h.writeError(r.Context(), w, err)
		return
	}

	filename := fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(header.Filename))
	path := filepath.Clean(filepath.Join(h.uploadDir, filename))

	dst, err := os.Create(path)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create upload file", "error", err)
		h.writeError(r.Context(), w, err)
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	j, err := h.service.SubmitPDF(r.Context(), path, header.Filename, written)
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil {
			slog.WarnContext(r.Context(), "failed to clean up rejected upload", "error", removeErr)
		}
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{"data": j})
}

func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobIDs []string `json:"job_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, kberr.Validation("invalid request body"))
		return
	}

	ids := make([]uuid.UUID, 0, len(req.JobIDs))
	for _, raw := range req.JobIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(r.Context(), w, kberr.Validation("invalid job id %q", raw))
			return
		}
		ids = append(ids, id)
	}

	views, err := h.service.Poll(r.Context(), ids)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": views})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(r.Context(), w, kberr.Validation("invalid job id"))
		return
	}

	j, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": j})
}

func (h *Handler) CrawledURLs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentURL string `json:"parent_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, kberr.Validation("invalid request body"))
		return
	}

	pages, err := h.service.CrawledURLs(r.Context(), req.ParentURL)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	if pages == nil {
		pages = []Page{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": pages,
		"meta": map[string]int{"count": len(pages)},
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(r.Context(), w, kberr.Validation("invalid request body"))
		return
	}

	deleted, err := h.service.Delete(r.Context(), req)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]int{"deleted": deleted},
	})
}

func (h *Handler) Resubmit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(r.Context(), w, kberr.Validation("invalid job id"))
		return
	}

	j, err := h.service.Resubmit(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{"data": j})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, status := classify(err)
	message := kberr.UserMessage(err)

	if status == http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

func classify(err error) (code string, status int) {
	if errors.Is(err, sql.ErrNoRows) {
		return "NOT_FOUND", http.StatusNotFound
	}
	switch kberr.KindOf(err) {
	case kberr.KindValidation:
		return "VALIDATION_ERROR", http.StatusBadRequest
	case kberr.KindConflict:
		return "CONFLICT", http.StatusConflict
	case kberr.KindBotProtected:
		return "bot_protected", http.StatusForbidden
	default:
		return "INTERNAL_ERROR", http.StatusInternalServerError
	}
}
