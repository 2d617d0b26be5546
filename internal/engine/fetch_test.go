// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scad2stl/internal/httputil"
	"github.com/pdiddy/scad2stl/pkg/types"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

func moduleServer(t *testing.T, calls *int32, failures int32, body []byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(calls, 1) <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestModulePath_LocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openscad.wasm")
	require.NoError(t, os.WriteFile(path, noopCommand, 0o644))

	got, err := ModulePath(context.Background(), http.DefaultClient, types.WASMConfig{ModulePath: path})
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = ModulePath(context.Background(), http.DefaultClient, types.WASMConfig{ModulePath: path + ".missing"})
	assert.Error(t, err)
}

func TestModulePath_NothingConfigured(t *testing.T) {
	_, err := ModulePath(context.Background(), http.DefaultClient, types.WASMConfig{})
	assert.ErrorContains(t, err, "no wasm module configured")
}

func TestModulePath_FetchesAndCaches(t *testing.T) {
	var calls int32
	ts := moduleServer(t, &calls, 2, noopCommand)
	cfg := types.WASMConfig{ModuleURL: ts.URL, CacheDir: t.TempDir()}

	path, err := ModulePath(context.Background(), ts.Client(), cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.CacheDir, moduleFile), path)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, noopCommand, data)

	// Second resolution uses the cache.
	_, err = ModulePath(context.Background(), ts.Client(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetch_RejectsNonWASM(t *testing.T) {
	var calls int32
	ts := moduleServer(t, &calls, 0, []byte("<html>not found</html>"))
	cfg := types.WASMConfig{ModuleURL: ts.URL, CacheDir: t.TempDir()}

	err := Fetch(context.Background(), ts.Client(), cfg)
	assert.ErrorContains(t, err, "is not a wasm module")

	entries, err := os.ReadDir(cfg.CacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial download should be removed")
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// failingBody yields a few bytes and then a transport error.
type failingBody struct{ sent bool }

func (b *failingBody) Read(p []byte) (int, error) {
	if b.sent {
		return 0, errors.New("connection reset by peer")
	}
	b.sent = true
	return copy(p, noopCommand[:2]), nil
}

func (b *failingBody) Close() error { return nil }

func TestFetch_ReadError(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: &failingBody{}, Header: http.Header{}, Request: r}, nil
	})}
	cfg := types.WASMConfig{ModuleURL: "http://modules.test/openscad.wasm", CacheDir: t.TempDir()}

	err := Fetch(context.Background(), client, cfg)
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset by peer")
	assert.NotContains(t, err.Error(), "is not a wasm module")

	entries, err := os.ReadDir(cfg.CacheDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetch_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	err := Fetch(context.Background(), ts.Client(), types.WASMConfig{ModuleURL: ts.URL, CacheDir: t.TempDir()})
	assert.ErrorContains(t, err, "HTTP 404")
}

func TestFetch_SendsAuthToken(t *testing.T) {
	var auth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write(noopCommand)
	}))
	defer ts.Close()

	cfg := types.WASMConfig{ModuleURL: ts.URL, CacheDir: t.TempDir(), AuthToken: "ghp_abc123"}
	require.NoError(t, Fetch(context.Background(), ts.Client(), cfg))
	assert.Equal(t, "Bearer ghp_abc123", auth)
}
