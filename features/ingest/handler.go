package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"qsearch/internal/jobstatus"
	"qsearch/internal/middleware"
)

type Handler struct {
	service       *Service
	uploadDir     string
	maxUploadSize int64
}

func NewHandler(s *Service, uploadDir string, maxUploadSize int64) *Handler {
	return &Handler{service: s, uploadDir: uploadDir, maxUploadSize: maxUploadSize}
}

type ingestURLRequest struct {
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type acceptedResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// IngestURL handles POST /api/v1/ingest/url.
func (h *Handler) IngestURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ingestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, "INVALID_JSON", "request body must be valid JSON", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		h.writeError(w, r, "VALIDATION_ERROR", "url is required", http.StatusBadRequest)
		return
	}

	jobID, err := h.service.SubmitURL(ctx, req.URL, req.Metadata)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			h.writeError(w, r, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "failed to submit url ingestion", "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "failed to start document ingestion", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, acceptedResponse{
		TaskID:  jobID,
		Status:  "accepted",
		Message: fmt.Sprintf("Document ingestion started for URL: %s", req.URL),
	})
}

// IngestFile handles POST /api/v1/ingest/file (multipart). The file is
// staged on disk so the worker can read it; the worker removes it once the
// job reaches a terminal state.
func (h *Handler) IngestFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	if err := r.ParseMultipartForm(h.maxUploadSize); err != nil {
		h.writeError(w, r, "VALIDATION_ERROR", "invalid multipart request", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, "VALIDATION_ERROR", "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	metadata := map[string]any{}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			h.writeError(w, r, "VALIDATION_ERROR", "metadata must be a JSON object", http.StatusBadRequest)
			return
		}
	}
	metadata["filename"] = header.Filename
	if err := ValidateMetadata(metadata); err != nil {
		h.writeError(w, r, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	path, err := h.stage(file, header.Filename)
	if err != nil {
		slog.ErrorContext(ctx, "failed to stage upload", "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "failed to store uploaded file", http.StatusInternalServerError)
		return
	}

	jobID, err := h.service.SubmitFile(ctx, path, metadata)
	if err != nil {
		slog.ErrorContext(ctx, "failed to submit file ingestion", "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "failed to start document ingestion", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, acceptedResponse{
		TaskID:  jobID,
		Status:  "accepted",
		Message: fmt.Sprintf("Document ingestion started for file: %s", header.Filename),
	})
}

// GetStatus handles GET /api/v1/task/{id}.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	snap, err := h.service.GetStatus(ctx, id)
	if err != nil {
		if errors.Is(err, jobstatus.ErrNotFound) {
			h.writeError(w, r, "NOT_FOUND", "unknown or expired task id", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to get task status", "task_id", id, "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "failed to get task status", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"task_id": snap.JobID,
		"status":  string(snap.State),
		"source":  snap.Source,
	}
	if snap.Result != nil {
		resp["result"] = snap.Result
	}
	if snap.Error != nil {
		resp["error"] = snap.Error
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// DeleteDocument handles DELETE /api/v1/document?source=...
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := r.URL.Query().Get("source")
	if source == "" {
		h.writeError(w, r, "VALIDATION_ERROR", "source query parameter is required", http.StatusBadRequest)
		return
	}

	jobID, err := h.service.SubmitDeletion(ctx, source)
	if err != nil {
		slog.ErrorContext(ctx, "failed to submit deletion", "source", source, "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "failed to start document deletion", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, acceptedResponse{
		TaskID:  jobID,
		Status:  "accepted",
		Message: fmt.Sprintf("Document deletion started for: %s", source),
	})
}

func (h *Handler) stage(file io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), filepath.Base(filename))
	path := filepath.Join(h.uploadDir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
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
