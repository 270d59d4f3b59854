package database

import (
	"errors"

	"github.com/jwestbrook/imageflow/internal/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist
	// (or belongs to someone else — the two are indistinguishable to
	// callers on purpose).
	ErrNotFound = errors.New("record not found")

	// ErrQuotaExceeded is returned by CreateImage when the owner is at
	// their image quota.
	ErrQuotaExceeded = errors.New("image quota exceeded")
)

// Database is the metadata repository. It is the single source of truth
// for image and job state; workers and request handlers share nothing
// else.
type Database interface {
	// CreateImage inserts the record, atomically enforcing the per-owner
	// quota in the same transaction as the insert.
	CreateImage(img *model.Image, quota int) error
	GetImage(ownerID, imageID string) (*model.Image, error)
	// GetImageByID looks up an image without an ownership check. Worker
	// internals only; never exposed through a handler.
	GetImageByID(imageID string) (*model.Image, error)
	ListImages(ownerID string) ([]*model.Image, error)
	CountImages(ownerID string) (int, error)
	// DeleteImage removes the record and its job row.
	DeleteImage(ownerID, imageID string) error

	// CreateJob stores the transform snapshot and flips the image to
	// pending in one transaction.
	CreateJob(job *model.Job) error
	// ClaimJob atomically moves a job from pending to running. The
	// returned bool is false when the job is already claimed, finished,
	// or deleted; at most one caller ever gets true per dispatch.
	ClaimJob(imageID string) (*model.Job, bool, error)
	// ReleaseJob returns a running job to pending and bumps its attempt
	// counter, for transient-failure retries.
	ReleaseJob(imageID string) error

	// CompleteImage finalises a successful job: processed fields are set
	// and the status moves pending -> completed. The returned bool is
	// false when no pending row existed (e.g. the image was deleted
	// mid-flight), in which case the caller must discard its output.
	CompleteImage(imageID, processedKey, processedURL string, width, height int) (bool, error)
	// FailImage moves pending -> failed, terminally.
	FailImage(imageID string) (bool, error)

	// RecoverJobs returns all unfinished job IDs and resets any left
	// running by a previous process so they can be re-enqueued.
	RecoverJobs() ([]string, error)

	Close() error
}
