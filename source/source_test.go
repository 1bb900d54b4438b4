package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.ico")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))

	rc, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestBytesAndReader(t *testing.T) {
	t.Parallel()

	data, err := io.ReadAll(Bytes([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	data, err = io.ReadAll(Reader(strings.NewReader("abc")))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("remote payload"))
	}))
	defer srv.Close()

	rc, err := Open(context.Background(), srv.URL)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("remote payload"), data)
}

func TestURLBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := URL(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "unexpected status")
}

func TestURLSizeLimitDeclared(t *testing.T) {
	t.Parallel()

	// Content length announces the oversize payload up front.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := &Fetcher{Limit: 10}
	_, err := f.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrSizeLimit)
}

func TestURLSizeLimitStreamed(t *testing.T) {
	t.Parallel()

	// Chunked transfer hides the length, the limit trips during reads.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		_, _ = w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	f := &Fetcher{Limit: 10}
	rc, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	_, err = io.ReadAll(rc)
	assert.ErrorIs(t, err, ErrSizeLimit)
}

func TestURLAtLimitReadsCleanly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 10))
	}))
	defer srv.Close()

	f := &Fetcher{Limit: 10}
	rc, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Len(t, data, 10)
}
