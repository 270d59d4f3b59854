package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no blob exists under the requested key.
var ErrNotFound = errors.New("blob not found")

// Storage is the blob store adapter. Keys are opaque strings chosen by
// the caller (e.g. "originals/<id>.jpg"); Put returns the public URL
// the blob is reachable at.
type Storage interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
