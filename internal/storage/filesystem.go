package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time check that FileSystem implements Storage.
var _ Storage = (*FileSystem)(nil)

// FileSystem implements Storage on the local filesystem. Blobs live at
// <basePath>/<key> and are served back through the /blobs/ route, so
// the returned URL is <baseURL>/blobs/<key>.
type FileSystem struct {
	basePath string
	baseURL  string
}

// NewFileSystem creates a FileSystem storage rooted at basePath.
func NewFileSystem(basePath, baseURL string) *FileSystem {
	return &FileSystem{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}
}

func (fs *FileSystem) blobPath(key string) (string, error) {
	// Keys are server-generated, but refuse traversal anyway.
	clean := filepath.Clean("/" + key)
	if strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(fs.basePath, clean), nil
}

// Put writes data to disk using an atomic write (temp file + rename)
// and returns the public URL of the blob.
func (fs *FileSystem) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	path, err := fs.blobPath(key)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "blob-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", fmt.Errorf("renaming temp file to %s: %w", path, err)
	}

	// Rename succeeded; prevent deferred cleanup from removing the final file.
	tmpPath = ""

	return fs.baseURL + "/blobs/" + key, nil
}

// Get reads the blob stored under key.
func (fs *FileSystem) Get(_ context.Context, key string) ([]byte, error) {
	path, err := fs.blobPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the blob under key. It is idempotent: deleting a
// non-existent blob returns no error.
func (fs *FileSystem) Delete(_ context.Context, key string) error {
	path, err := fs.blobPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing file %s: %w", path, err)
	}
	return nil
}

// Exists checks whether a blob exists under key.
func (fs *FileSystem) Exists(_ context.Context, key string) (bool, error) {
	path, err := fs.blobPath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file %s: %w", path, err)
}
