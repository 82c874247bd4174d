package materializer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrDownloadFailed is returned when a transient artifact cannot be fetched.
var ErrDownloadFailed = errors.New("materializer: download failed")

// Downloader fetches a transient artifact.
type Downloader interface {
	Download(ctx context.Context, ref string, header http.Header) (data []byte, contentType string, err error)
}

// HTTPDownloader downloads artifacts over HTTP.
type HTTPDownloader struct {
	client  *http.Client
	maxSize int64
}

// NewHTTPDownloader creates a downloader. A nil client uses a client with a
// 5 minute timeout; artifacts are capped at 500MB.
func NewHTTPDownloader(c *http.Client) *HTTPDownloader {
	if c == nil {
		c = &http.Client{Timeout: 5 * time.Minute}
	}
	return &HTTPDownloader{client: c, maxSize: 500 << 20}
}

// Download implements Downloader.
func (d *HTTPDownloader) Download(ctx context.Context, ref string, header http.Header) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(data)) > d.maxSize {
		return nil, "", fmt.Errorf("%w: body exceeds %d bytes", ErrDownloadFailed, d.maxSize)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty body", ErrDownloadFailed)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}
