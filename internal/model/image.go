package model

import "time"

// ProcessingStatus tracks where an image sits in the processing pipeline.
// "completed" and "failed" are terminal; "none" only ever moves to
// "pending", and only together with job creation at upload time.
type ProcessingStatus string

const (
	StatusNone      ProcessingStatus = "none"
	StatusPending   ProcessingStatus = "pending"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
)

// Image is the durable record for one uploaded asset. The processed_*
// fields are populated only once ProcessingStatus reaches "completed".
type Image struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"-"`
	FileName         string           `json:"file_name"`
	ContentType      string           `json:"content_type"`
	SizeBytes        int64            `json:"size_bytes"`
	OriginalKey      string           `json:"stored_key"`
	OriginalURL      string           `json:"original_url"`
	Width            int              `json:"width"`
	Height           int              `json:"height"`
	ProcessingStatus ProcessingStatus `json:"status"`
	ProcessedKey     string           `json:"processed_key,omitempty"`
	ProcessedURL     string           `json:"processed_url,omitempty"`
	ProcessedWidth   int              `json:"processed_width,omitempty"`
	ProcessedHeight  int              `json:"processed_height,omitempty"`
	Uploaded         time.Time        `json:"uploaded_at"`
}

// CropRect is a rectangle in original-pixel coordinates.
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Tint is a uniform color overlay. Opacity is in [0, 1].
type Tint struct {
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
}

// TransformRequest captures the optional processing parameters of an
// upload. An empty request means the original is stored as-is.
type TransformRequest struct {
	ResizeWidth int       `json:"resize_width,omitempty"`
	Crop        *CropRect `json:"crop,omitempty"`
	Tint        *Tint     `json:"tint,omitempty"`
}

// IsEmpty reports whether the request asks for no transformation at all.
func (r TransformRequest) IsEmpty() bool {
	return r.ResizeWidth == 0 && r.Crop == nil && r.Tint == nil
}

// Job is the unit of asynchronous work, tied 1:1 to an image. The
// request snapshot is immutable once enqueued.
type Job struct {
	ImageID  string           `json:"image_id"`
	Request  TransformRequest `json:"request"`
	Attempts int              `json:"attempts"`
}
