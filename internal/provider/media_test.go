package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPublicURL(t *testing.T) {
	tests := map[string]bool{
		"https://cdn.example.com/a.png":      true,
		"http://203.0.113.10/a.png":          true,
		"http://localhost:8080/artifacts/a":  false,
		"http://127.0.0.1:9000/a.png":        false,
		"http://10.1.2.3/a.png":              false,
		"http://192.168.0.4/a.png":           false,
		"http://minio.internal/bucket/a.png": false,
		"data:image/png;base64,aGVsbG8=":     false,
		"/tmp/a.png":                         false,
		"ftp://example.com/a.png":            false,
	}
	for ref, want := range tests {
		assert.Equal(t, want, IsPublicURL(ref), ref)
	}
}

func newLocalImageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMediaEncoder_Encode(t *testing.T) {
	srv := newLocalImageServer(t)
	enc := NewMediaEncoder(NewHTTPFetcher(srv.Client()), false)

	m, err := enc.Encode(context.Background(), "https://cdn.example.com/a.png")
	require.NoError(t, err)
	assert.False(t, m.Inline())
	assert.Equal(t, "https://cdn.example.com/a.png", m.URL)

	m, err = enc.Encode(context.Background(), srv.URL+"/local.jpg")
	require.NoError(t, err)
	assert.True(t, m.Inline())
	assert.Equal(t, "image/jpeg", m.MIMEType)
	assert.Equal(t, []byte("jpeg-bytes:/local.jpg"), m.Data)

	_, err = enc.Encode(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestMediaEncoder_EncodePairUsesSameEncoding(t *testing.T) {
	srv := newLocalImageServer(t)
	enc := NewMediaEncoder(NewHTTPFetcher(srv.Client()), false)

	t.Run("both public stay URLs", func(t *testing.T) {
		a, b, err := enc.EncodePair(context.Background(), "https://cdn.example.com/1.png", "https://cdn.example.com/2.png")
		require.NoError(t, err)
		assert.False(t, a.Inline())
		assert.False(t, b.Inline())
	})

	t.Run("mixed inlines both", func(t *testing.T) {
		a, b, err := enc.EncodePair(context.Background(), srv.URL+"/start.jpg", srv.URL+"/end.jpg")
		require.NoError(t, err)
		assert.True(t, a.Inline())
		assert.True(t, b.Inline())
	})

	t.Run("no end frame", func(t *testing.T) {
		a, b, err := enc.EncodePair(context.Background(), "https://cdn.example.com/1.png", "")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/1.png", a.URL)
		assert.Equal(t, Media{}, b)
	})

	t.Run("end without start", func(t *testing.T) {
		_, _, err := enc.EncodePair(context.Background(), "", "https://cdn.example.com/2.png")
		assert.ErrorIs(t, err, ErrMissingInput)
	})
}

func TestMediaEncoder_AlwaysInline(t *testing.T) {
	enc := NewMediaEncoder(NewHTTPFetcher(nil), true)
	m, err := enc.Encode(context.Background(), "data:image/png;base64,aGVsbG8=")
	require.NoError(t, err)
	assert.Equal(t, "image/png", m.MIMEType)
	assert.Equal(t, []byte("hello"), m.Data)
	assert.Equal(t, "aGVsbG8=", m.Base64())
}

func TestHTTPFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	_, _, err := f.Fetch(context.Background(), srv.URL+"/missing.png")
	assert.ErrorIs(t, err, ErrFetchFailed)

	_, _, err = f.Fetch(context.Background(), "data:image/png;base64")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestHTTPFetcher_RejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())
	f.maxSize = 8
	_, _, err := f.Fetch(context.Background(), srv.URL+"/big.png")
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "exceeds 8 bytes")

	f.maxSize = 10
	data, mime, err := f.Fetch(context.Background(), srv.URL+"/exact.png")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Equal(t, "image/png", mime)
}
