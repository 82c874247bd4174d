package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		tempDir := filepath.Join(os.TempDir(), "genstudio_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(tempDir) }()

		storage, err := NewLocalStorage(tempDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), tempDir)
		}

		info, err := os.Stat(tempDir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "genstudio")
		if storage.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), expected)
		}
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("saves data to temp file", func(t *testing.T) {
		ctx := context.Background()
		data := bytes.NewReader([]byte("test data"))

		path, err := storage.SaveTemp(ctx, "test", data)
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if !strings.Contains(path, "test_") {
			t.Errorf("path %s should contain 'test_'", path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read saved file: %v", err)
		}
		if string(content) != "test data" {
			t.Errorf("got %q, want %q", string(content), "test data")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.SaveTemp(ctx, "test", bytes.NewReader([]byte("data")))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_LoadTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("loads saved file", func(t *testing.T) {
		path, err := storage.SaveTemp(ctx, "load_test", bytes.NewReader([]byte("load data")))
		if err != nil {
			t.Fatalf("SaveTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		reader, err := storage.LoadTemp(ctx, path)
		if err != nil {
			t.Fatalf("LoadTemp() error = %v", err)
		}
		defer func() { _ = reader.Close() }()

		content, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if string(content) != "load data" {
			t.Errorf("got %q, want %q", string(content), "load data")
		}
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		_, err := storage.LoadTemp(ctx, "/non/existent/file")
		if err == nil {
			t.Error("expected error for non-existent file")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.LoadTemp(ctx, "/some/path")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path, err := storage.SaveTemp(ctx, "cleanup", bytes.NewReader([]byte("data")))
			if err != nil {
				t.Fatalf("SaveTemp() error = %v", err)
			}
			paths = append(paths, path)
		}

		err := storage.CleanupTemp(ctx, paths)
		if err != nil {
			t.Fatalf("CleanupTemp() error = %v", err)
		}

		for _, p := range paths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("file %s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		err := storage.CleanupTemp(ctx, []string{"/non/existent/file"})
		if err != nil {
			t.Errorf("CleanupTemp() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.CleanupTemp(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_UploadAndDelete(t *testing.T) {
	tempDir := filepath.Join(os.TempDir(), "genstudio_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	storage, err := NewLocalStorage(tempDir, WithPublicBaseURL("https://api.example.com/artifacts/"))
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	ctx := context.Background()
	key := ArtifactKey("job-1", "video", ".mp4")

	url, err := storage.Upload(ctx, key, bytes.NewReader([]byte("video bytes")), "video/mp4")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url != "https://api.example.com/artifacts/"+key {
		t.Errorf("url = %v", url)
	}

	stored := filepath.Join(storage.ArtifactsDir(), filepath.FromSlash(key))
	content, err := os.ReadFile(stored)
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if string(content) != "video bytes" {
		t.Errorf("got %q, want %q", string(content), "video bytes")
	}

	t.Run("rejects keys escaping the root", func(t *testing.T) {
		for _, bad := range []string{"", "../etc/passwd", "/abs/key", "a/../../b"} {
			if _, err := storage.Upload(ctx, bad, bytes.NewReader(nil), ""); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Upload(%q) error = %v, want ErrInvalidKey", bad, err)
			}
		}
	})

	t.Run("refuses foreign references", func(t *testing.T) {
		err := storage.Delete(ctx, "https://cdn.other.com/artifacts/"+key)
		if !errors.Is(err, ErrForeignReference) {
			t.Errorf("expected ErrForeignReference, got %v", err)
		}
	})

	t.Run("deletes owned artifacts idempotently", func(t *testing.T) {
		if err := storage.Delete(ctx, url); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := os.Stat(stored); !os.IsNotExist(err) {
			t.Error("artifact still exists")
		}
		if err := storage.Delete(ctx, url); err != nil {
			t.Errorf("second Delete() error = %v", err)
		}
	})
}

func TestArtifactKey(t *testing.T) {
	a := ArtifactKey("job-1", "video", "mp4")
	b := ArtifactKey("job-1", "video", ".mp4")
	if a != b {
		t.Errorf("keys differ: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "generations/job-1/video-") || !strings.HasSuffix(a, ".mp4") {
		t.Errorf("unexpected key %s", a)
	}
	if ArtifactKey("job-1", "thumbnail", ".jpg") == ArtifactKey("job-2", "thumbnail", ".jpg") {
		t.Error("expected distinct keys per job")
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"video/mp4":                ".mp4",
		"image/png":                ".png",
		"image/jpeg; charset=x":    ".jpg",
		"application/octet-stream": "",
	}
	for mime, want := range tests {
		if got := ExtensionFor(mime); got != want {
			t.Errorf("ExtensionFor(%q) = %q, want %q", mime, got, want)
		}
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	tempDir := filepath.Join(os.TempDir(), "genstudio_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	storage, err := NewLocalStorage(tempDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
