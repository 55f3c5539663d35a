// Package media fetches image attachments referenced by URL and
// prepares them for inclusion in a model request.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/harborline/docent/internal/httpkit"
)

// DefaultTimeout is the HTTP request timeout for fetching images.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBytes is the maximum image size accepted (10 MB).
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// Error describes why an image could not be used as a payload.
type Error struct {
	URL    string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("media: %s: %s", e.Reason, e.URL)
}

// Payload is a fetched image ready to embed in a model request.
type Payload struct {
	Data      string // base64-encoded image bytes
	MediaType string // e.g. "image/jpeg"
}

// Fetcher downloads images for use as message payloads.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewFetcher creates a Fetcher with default settings.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client:   httpkit.NewClient(httpkit.WithTimeout(DefaultTimeout)),
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch downloads the URL and returns its base64-encoded bytes. The
// response must declare an image content type; anything else is
// rejected with an *Error so the caller can drop the attachment
// instead of sending garbage to the model.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Payload, error) {
	if rawURL == "" {
		return nil, &Error{URL: rawURL, Reason: "url is required"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Reason: "invalid url"}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	mediaType := contentMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("not an image (%s)", mediaType)}
	}

	// Read one byte past the cap so an oversized body is detected
	// instead of silently truncated.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("media: failed to read response: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, &Error{URL: rawURL, Reason: fmt.Sprintf("image exceeds %d bytes", f.maxBytes)}
	}

	return &Payload{
		Data:      base64.StdEncoding.EncodeToString(body),
		MediaType: mediaType,
	}, nil
}

// contentMediaType strips any parameters ("; charset=...") from a
// Content-Type header value.
func contentMediaType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
