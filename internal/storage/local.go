package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// DefaultPublicPath is the URL prefix local artifacts are served under.
const DefaultPublicPath = "/artifacts"

// LocalStorage implements the Storage interface using local disk.
// Temporary files live in tempDir; durable artifacts are written to
// artifactsDir and addressed as publicBaseURL/key.
type LocalStorage struct {
	tempDir       string
	artifactsDir  string
	publicBaseURL string
}

// LocalOption configures LocalStorage.
type LocalOption func(*LocalStorage)

// WithArtifactsDir sets where durable artifacts are written.
func WithArtifactsDir(dir string) LocalOption {
	return func(s *LocalStorage) {
		if dir != "" {
			s.artifactsDir = dir
		}
	}
}

// WithPublicBaseURL sets the URL prefix returned for uploaded artifacts,
// e.g. "https://api.example.com/artifacts".
func WithPublicBaseURL(u string) LocalOption {
	return func(s *LocalStorage) {
		if u != "" {
			s.publicBaseURL = u
		}
	}
}

// NewLocalStorage creates a new LocalStorage instance.
// The tempDir parameter specifies where temporary files are stored.
// If tempDir is empty, os.TempDir() is used.
// The directories are created if they don't exist.
func NewLocalStorage(tempDir string, opts ...LocalOption) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "genstudio")
	}

	s := &LocalStorage{
		tempDir:       tempDir,
		artifactsDir:  filepath.Join(tempDir, "artifacts"),
		publicBaseURL: DefaultPublicPath,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	if err := os.MkdirAll(s.artifactsDir, 0750); err != nil {
		return nil, fmt.Errorf("create artifacts directory: %w", err)
	}

	return s, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// ArtifactsDir returns the directory durable artifacts are written to.
func (s *LocalStorage) ArtifactsDir() string {
	return s.artifactsDir
}

// SaveTemp saves data to a temporary file and returns the file path.
// The name is used as a base for the filename with a unique suffix.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.tempDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return fileName, nil
}

// LoadTemp reads a temporary file and returns a reader.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open temp file: %w", err)
	}

	return f, nil
}

// CleanupTemp removes the specified temporary files.
// It continues cleanup even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove temp file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// Upload writes data to the artifacts directory and returns its public URL.
func (s *LocalStorage) Upload(ctx context.Context, key string, data io.Reader, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}
	if err := checkKey(key); err != nil {
		return "", err
	}

	dst := filepath.Join(s.artifactsDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	// Write to a sibling temp file and rename so readers never see a partial artifact.
	f, err := os.CreateTemp(filepath.Dir(dst), ".upload_*")
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	tmp := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("store artifact: %w", err)
	}

	return joinURL(s.publicBaseURL, key), nil
}

// Delete removes an artifact previously returned by Upload.
// Deleting an artifact that is already gone is not an error.
func (s *LocalStorage) Delete(ctx context.Context, ref string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	key, err := keyFromRef(s.publicBaseURL, ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.artifactsDir, filepath.FromSlash(key))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}
