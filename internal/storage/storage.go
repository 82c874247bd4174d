// Package storage provides temporary and durable artifact storage.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Static errors for storage operations.
var (
	// ErrForeignReference is returned by Delete when a URL was not issued by this store.
	ErrForeignReference = errors.New("storage: reference not owned by this store")
	// ErrInvalidKey is returned when an object key escapes the store root.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Storage defines the interface for temporary files and durable artifacts.
// Temporary files back ffmpeg work; durable artifacts are the outputs clients
// download, addressed by URL.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp reads a temporary file and returns a reader.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Upload stores data under key and returns its durable URL.
	Upload(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)

	// Delete removes the artifact behind a durable URL returned by Upload.
	// Returns ErrForeignReference for URLs this store did not issue.
	Delete(ctx context.Context, ref string) error
}

// ArtifactKey builds a stable object key for one artifact of a job.
// The same job and role always map to the same key, so a retried upload
// overwrites instead of leaking a second object.
func ArtifactKey(jobID, role, ext string) string {
	sum := xxhash.Sum64String(jobID + "/" + role)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return fmt.Sprintf("generations/%s/%s-%016x%s", jobID, role, sum, ext)
}

// ExtensionFor returns a file extension for a MIME type.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

// keyFromRef strips base from ref and validates the remaining key.
func keyFromRef(base, ref string) (string, error) {
	prefix := strings.TrimRight(base, "/") + "/"
	if base == "" || !strings.HasPrefix(ref, prefix) {
		return "", ErrForeignReference
	}
	key := strings.TrimPrefix(ref, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	if err := checkKey(key); err != nil {
		return "", err
	}
	return key, nil
}

func checkKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.HasPrefix(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
