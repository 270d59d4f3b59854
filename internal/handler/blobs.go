package handler

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jwestbrook/imageflow/internal/storage"
)

// ServeBlob handles GET /blobs/* — it serves stored bytes directly,
// which is how the filesystem backend's URLs resolve. Object-storage
// backends hand out their own URLs and normally bypass this route.
func (h *Handler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, "blob not found", http.StatusNotFound)
		return
	}

	data, err := h.Store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "blob not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("ServeBlob: failed to write response: %v", err)
	}
}
