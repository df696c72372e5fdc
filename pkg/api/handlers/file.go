package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opentranscribe/mpo/pkg/store/models"
	"github.com/opentranscribe/mpo/pkg/taskerr"
)

// fileDeleter is satisfied by *ingest.Coordinator.
type fileDeleter interface {
	DeleteFile(ctx context.Context, fileID string) error
}

// FileHandler exposes the safe-delete operation (spec §4.10).
type FileHandler struct {
	coordinator fileDeleter
}

// NewFileHandler builds a FileHandler.
func NewFileHandler(c fileDeleter) *FileHandler {
	return &FileHandler{coordinator: c}
}

// Delete handles DELETE /internal/files/{id}.
func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")

	err := h.coordinator.DeleteFile(r.Context(), fileID)
	switch {
	case err == nil:
		WriteNoContent(w)
	case errors.Is(err, models.ErrFileNotFound):
		NotFound(w, "file not found")
	case errors.Is(err, taskerr.ErrFileNotSafeToDelete):
		Conflict(w, "file has an active task and is not force-delete-eligible")
	default:
		InternalServerError(w, err.Error())
	}
}
