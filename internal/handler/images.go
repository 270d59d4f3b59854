package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jwestbrook/imageflow/internal/api"
	"github.com/jwestbrook/imageflow/internal/database"
	"github.com/jwestbrook/imageflow/internal/model"
)

// statusResponse is the polling payload. ProcessedURL appears only once
// the status is "completed".
type statusResponse struct {
	Status       model.ProcessingStatus `json:"status"`
	ProcessedURL string                 `json:"processed_url,omitempty"`
}

// GetStatus handles GET /images/{image_id}/status. Designed for
// high-frequency polling: one metadata read, no blob access.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ownerID := api.GetOwnerID(r.Context())
	imageID := chi.URLParam(r, "image_id")

	img, err := h.DB.GetImage(ownerID, imageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Non-owners get the same answer as a missing ID: no
			// existence oracle.
			api.NotFound(w, "image not found")
			return
		}
		api.Internal(w)
		return
	}

	resp := statusResponse{Status: img.ProcessingStatus}
	if img.ProcessingStatus == model.StatusCompleted {
		resp.ProcessedURL = img.ProcessedURL
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// GetImage handles GET /images/{image_id}.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	ownerID := api.GetOwnerID(r.Context())
	imageID := chi.URLParam(r, "image_id")

	img, err := h.DB.GetImage(ownerID, imageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			api.NotFound(w, "image not found")
			return
		}
		api.Internal(w)
		return
	}
	api.WriteJSON(w, http.StatusOK, img)
}

// ListImages handles GET /images, newest first.
func (h *Handler) ListImages(w http.ResponseWriter, r *http.Request) {
	ownerID := api.GetOwnerID(r.Context())

	images, err := h.DB.ListImages(ownerID)
	if err != nil {
		api.Internal(w)
		return
	}
	// Ensure non-nil slice for JSON serialisation.
	if images == nil {
		images = []*model.Image{}
	}
	api.WriteJSON(w, http.StatusOK, map[string]interface{}{"images": images})
}

// CountImages handles GET /images/count.
func (h *Handler) CountImages(w http.ResponseWriter, r *http.Request) {
	ownerID := api.GetOwnerID(r.Context())

	count, err := h.DB.CountImages(ownerID)
	if err != nil {
		api.Internal(w)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{
		"count": count,
		"limit": h.Config.ImageQuota,
	})
}

// DeleteImage handles DELETE /images/{image_id}. Blobs go first so no
// record ever points at deleted bytes; a repeat delete of the same ID is
// a plain not-found, never a server error.
func (h *Handler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	ownerID := api.GetOwnerID(r.Context())
	imageID := chi.URLParam(r, "image_id")

	img, err := h.DB.GetImage(ownerID, imageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			api.NotFound(w, "image not found")
			return
		}
		api.Internal(w)
		return
	}

	// Best-effort: an orphaned blob is invisible to users, dangling
	// metadata is not.
	if err := h.Store.Delete(r.Context(), img.OriginalKey); err != nil {
		slog.Error("delete original blob failed", "key", img.OriginalKey, "error", err)
	}
	if img.ProcessedKey != "" {
		if err := h.Store.Delete(r.Context(), img.ProcessedKey); err != nil {
			slog.Error("delete processed blob failed", "key", img.ProcessedKey, "error", err)
		}
	}

	if err := h.DB.DeleteImage(ownerID, imageID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			api.NotFound(w, "image not found")
			return
		}
		api.Internal(w)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]string{"message": "image deleted"})
}
