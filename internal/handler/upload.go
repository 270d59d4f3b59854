package handler

import (
	"bytes"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/jwestbrook/imageflow/internal/api"
	"github.com/jwestbrook/imageflow/internal/database"
	"github.com/jwestbrook/imageflow/internal/imageproc"
	"github.com/jwestbrook/imageflow/internal/model"
)

// uploadResponse is the canonical wire schema for POST /upload. S3URL
// duplicates OriginalURL for clients written against the older field name.
type uploadResponse struct {
	ID          string                 `json:"id"`
	StoredKey   string                 `json:"stored_key"`
	OriginalURL string                 `json:"original_url"`
	S3URL       string                 `json:"s3_url"`
	Width       int                    `json:"width"`
	Height      int                    `json:"height"`
	Status      model.ProcessingStatus `json:"status"`
	Message     string                 `json:"message,omitempty"`
}

// Upload handles POST /upload. Validation happens strictly before any
// blob or metadata write: a rejected request leaves zero side effects.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ownerID := api.GetOwnerID(r.Context())

	// Hard server-side cap; the client-side limit is not a security
	// boundary. The slack covers multipart framing overhead.
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxUploadBytes+1<<20)

	if err := r.ParseMultipartForm(h.Config.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.TooLarge(w, "upload exceeds size limit")
			return
		}
		api.BadRequest(w, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		api.BadRequest(w, "missing required field: file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		api.BadRequest(w, "failed to read file")
		return
	}
	if int64(len(data)) > h.Config.MaxUploadBytes {
		api.TooLarge(w, "upload exceeds size limit")
		return
	}

	// Sniff the content type from the bytes; the client-supplied header
	// is not trusted.
	contentType := http.DetectContentType(data)
	if !h.Config.TypeAllowed(contentType) {
		api.BadRequest(w, "unsupported content type: "+contentType)
		return
	}

	// Decode enough of the image for the true dimensions. Client-supplied
	// dimensions are never used.
	dims, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		api.BadRequest(w, "file is not a decodable image")
		return
	}

	req, err := parseTransformRequest(r)
	if err != nil {
		api.BadRequest(w, err.Error())
		return
	}
	if !req.IsEmpty() {
		if err := imageproc.ValidateRequest(req, dims.Width, dims.Height); err != nil {
			api.BadRequest(w, err.Error())
			return
		}
	}

	// Quota pre-check so a 21st upload never allocates a storage key.
	// The insert below re-checks transactionally to close the race.
	count, err := h.DB.CountImages(ownerID)
	if err != nil {
		api.Internal(w)
		return
	}
	if count >= h.Config.ImageQuota {
		api.Conflict(w, "image quota exceeded")
		return
	}

	imageID := uuid.New().String()
	originalKey := "originals/" + imageID + extForType(contentType, header.Filename)

	originalURL, err := h.Store.Put(r.Context(), originalKey, contentType, data)
	if err != nil {
		slog.Error("store original failed", "key", originalKey, "error", err)
		api.Internal(w)
		return
	}

	img := &model.Image{
		ID:               imageID,
		OwnerID:          ownerID,
		FileName:         header.Filename,
		ContentType:      contentType,
		SizeBytes:        int64(len(data)),
		OriginalKey:      originalKey,
		OriginalURL:      originalURL,
		Width:            dims.Width,
		Height:           dims.Height,
		ProcessingStatus: model.StatusNone,
		Uploaded:         time.Now().UTC(),
	}

	if err := h.DB.CreateImage(img, h.Config.ImageQuota); err != nil {
		// The blob landed but the record did not: compensate so no
		// metadata ever points at nothing, and no key leaks.
		if delErr := h.Store.Delete(r.Context(), originalKey); delErr != nil {
			slog.Error("compensating blob delete failed", "key", originalKey, "error", delErr)
		}
		if errors.Is(err, database.ErrQuotaExceeded) {
			api.Conflict(w, "image quota exceeded")
			return
		}
		slog.Error("create image record failed", "image_id", imageID, "error", err)
		api.Internal(w)
		return
	}

	message := "image uploaded"
	if !req.IsEmpty() {
		// The record is born as "none"; CreateJob flips it to pending
		// together with the job row so the two never disagree.
		job := &model.Job{ImageID: imageID, Request: req}
		if err := h.DB.CreateJob(job); err != nil {
			slog.Error("create job failed", "image_id", imageID, "error", err)
			api.Internal(w)
			return
		}
		img.ProcessingStatus = model.StatusPending
		if err := h.Queue.Enqueue(r.Context(), imageID); err != nil {
			// The job row survives; startup recovery re-enqueues it.
			slog.Error("enqueue failed", "image_id", imageID, "error", err)
		}
		message = "image uploaded and queued for processing"
	}

	api.WriteJSON(w, http.StatusOK, uploadResponse{
		ID:          img.ID,
		StoredKey:   img.OriginalKey,
		OriginalURL: img.OriginalURL,
		S3URL:       img.OriginalURL,
		Width:       img.Width,
		Height:      img.Height,
		Status:      img.ProcessingStatus,
		Message:     message,
	})
}

// parseTransformRequest reads the optional processing form fields
// (numeric values arrive as strings in the multipart form).
func parseTransformRequest(r *http.Request) (model.TransformRequest, error) {
	var req model.TransformRequest

	if v := r.FormValue("width"); v != "" {
		width, err := strconv.Atoi(v)
		if err != nil {
			return req, errors.New("invalid width: must be an integer")
		}
		if width <= 0 {
			return req, errors.New("invalid width: must be positive")
		}
		req.ResizeWidth = width
	}

	cropW := r.FormValue("cropWidth")
	cropH := r.FormValue("cropHeight")
	if cropW != "" || cropH != "" {
		crop := &model.CropRect{}
		var err error
		if crop.Width, err = strconv.Atoi(cropW); err != nil {
			return req, errors.New("invalid cropWidth: must be an integer")
		}
		if crop.Height, err = strconv.Atoi(cropH); err != nil {
			return req, errors.New("invalid cropHeight: must be an integer")
		}
		if v := r.FormValue("cropX"); v != "" {
			if crop.X, err = strconv.Atoi(v); err != nil {
				return req, errors.New("invalid cropX: must be an integer")
			}
		}
		if v := r.FormValue("cropY"); v != "" {
			if crop.Y, err = strconv.Atoi(v); err != nil {
				return req, errors.New("invalid cropY: must be an integer")
			}
		}
		req.Crop = crop
	}

	if color := r.FormValue("tintColor"); color != "" {
		tint := &model.Tint{Color: color, Opacity: 0.5}
		if v := r.FormValue("tintOpacity"); v != "" {
			opacity, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return req, errors.New("invalid tintOpacity: must be a number")
			}
			tint.Opacity = opacity
		}
		req.Tint = tint
	}

	return req, nil
}

// extForType picks the storage-key extension from the sniffed type,
// falling back to the uploaded filename's extension.
func extForType(contentType, filename string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	}
	return filepath.Ext(filename)
}
