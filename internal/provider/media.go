package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrFetchFailed is returned when an input reference cannot be downloaded.
var ErrFetchFailed = errors.New("provider: fetch input media failed")

// Media is an input reference prepared for a provider: either a URL the
// provider can reach itself, or inline bytes.
type Media struct {
	URL      string
	Data     []byte
	MIMEType string
}

// Inline returns true if the media carries bytes rather than a URL.
func (m Media) Inline() bool {
	return len(m.Data) > 0
}

// Base64 returns the inline bytes base64-encoded without a data URI prefix.
func (m Media) Base64() string {
	return base64.StdEncoding.EncodeToString(m.Data)
}

// Fetcher downloads the bytes behind a media reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, string, error)
}

// HTTPFetcher fetches media over HTTP and decodes data URIs.
type HTTPFetcher struct {
	client  *http.Client
	maxSize int64
}

// NewHTTPFetcher creates a fetcher with the given client. A nil client uses
// a client with a 2 minute timeout.
func NewHTTPFetcher(c *http.Client) *HTTPFetcher {
	if c == nil {
		c = &http.Client{Timeout: 2 * time.Minute}
	}
	return &HTTPFetcher{client: c, maxSize: 200 << 20}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURI(ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: %s returned status %d", ErrFetchFailed, ref, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	if int64(len(data)) > f.maxSize {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", ErrFetchFailed, ref, f.maxSize)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func decodeDataURI(ref string) ([]byte, string, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed data URI", ErrFetchFailed)
	}
	mime := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return data, mime, nil
}

// MediaEncoder decides how an input reference is handed to a provider.
// Public URLs are passed through; anything else is fetched and inlined.
type MediaEncoder struct {
	fetcher      Fetcher
	alwaysInline bool
}

// NewMediaEncoder creates an encoder. With alwaysInline set every reference
// is fetched, for providers that only accept inline bytes.
func NewMediaEncoder(f Fetcher, alwaysInline bool) *MediaEncoder {
	return &MediaEncoder{fetcher: f, alwaysInline: alwaysInline}
}

// Encode prepares a single reference.
func (e *MediaEncoder) Encode(ctx context.Context, ref string) (Media, error) {
	if ref == "" {
		return Media{}, ErrMissingInput
	}
	if !e.alwaysInline && IsPublicURL(ref) {
		return Media{URL: ref}, nil
	}
	return e.inline(ctx, ref)
}

// EncodePair prepares a start and end frame with the same encoding. If either
// must be inlined, both are.
func (e *MediaEncoder) EncodePair(ctx context.Context, start, end string) (Media, Media, error) {
	if end == "" {
		m, err := e.Encode(ctx, start)
		return m, Media{}, err
	}
	if start == "" {
		return Media{}, Media{}, ErrMissingInput
	}
	if !e.alwaysInline && IsPublicURL(start) && IsPublicURL(end) {
		return Media{URL: start}, Media{URL: end}, nil
	}
	a, err := e.inline(ctx, start)
	if err != nil {
		return Media{}, Media{}, err
	}
	b, err := e.inline(ctx, end)
	if err != nil {
		return Media{}, Media{}, err
	}
	return a, b, nil
}

func (e *MediaEncoder) inline(ctx context.Context, ref string) (Media, error) {
	data, mime, err := e.fetcher.Fetch(ctx, ref)
	if err != nil {
		return Media{}, err
	}
	return Media{Data: data, MIMEType: mime}, nil
}

// IsPublicURL returns true if ref is an http(s) URL whose host is not a
// loopback, private or link-local address.
func IsPublicURL(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified())
	}
	return true
}
