// Package source opens forward-readable byte sources for container
// decoding. All adapters return plain streams without any seeking
// surface, matching what the decoder expects.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultLimit caps how many bytes a remote fetch may deliver.
const DefaultLimit = 8 << 20

// ErrSizeLimit is returned when a remote source exceeds the
// configured payload limit.
var ErrSizeLimit = errors.New("source: payload exceeds size limit")

// Open returns a byte source for name. Names starting with http:// or
// https:// are fetched over the network, everything else is opened as
// a file path.
func Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return URL(ctx, name)
	}
	return File(name)
}

// File opens a local file as a byte source.
func File(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// Bytes wraps an in-memory payload as a byte source.
func Bytes(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

// Reader wraps any reader as a byte source. Closing is a no-op unless
// r already implements io.Closer.
func Reader(r io.Reader) io.ReadCloser {
	if rc, ok := r.(io.ReadCloser); ok {
		return rc
	}
	return io.NopCloser(r)
}

// URL fetches a remote container using the default fetcher.
func URL(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	return new(Fetcher).Fetch(ctx, rawURL)
}

// A Fetcher retrieves remote containers over HTTP. The zero value
// uses a default client with a 30 second timeout and DefaultLimit.
type Fetcher struct {
	// Client overrides the HTTP client used for fetching.
	Client *http.Client
	// Limit overrides the maximum payload size in bytes.
	Limit int64
}

var defaultClient = &http.Client{Timeout: 30 * time.Second}

// Fetch requests rawURL and returns the response body as a byte
// source. The body is capped at the configured limit; reading past it
// fails with ErrSizeLimit instead of silently truncating.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	client := f.Client
	if client == nil {
		client = defaultClient
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("source: fetch %s: unexpected status %s", rawURL, resp.Status)
	}
	if resp.ContentLength > limit {
		_ = resp.Body.Close()
		return nil, ErrSizeLimit
	}
	return &limitedReadCloser{rc: resp.Body, remaining: limit}, nil
}

// limitedReadCloser passes reads through until the limit is crossed,
// then fails hard. Sources that end exactly at the limit still read
// cleanly to EOF.
type limitedReadCloser struct {
	rc        io.ReadCloser
	remaining int64
}

func (l *limitedReadCloser) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrSizeLimit
	}
	// Read one byte past the limit so crossing it is detectable.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		// At most one byte past the limit was read, give back the rest.
		return n - 1, ErrSizeLimit
	}
	return n, err
}

func (l *limitedReadCloser) Close() error {
	return l.rc.Close()
}
