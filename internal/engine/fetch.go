// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pdiddy/scad2stl/internal/httputil"
	"github.com/pdiddy/scad2stl/pkg/types"
)

const (
	moduleFile          = "openscad.wasm"
	defaultFetchTimeout = 2 * time.Minute
)

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// ModulePath resolves the location of the OpenSCAD WASI module. A configured
// ModulePath wins; otherwise the module is fetched from ModuleURL into
// CacheDir unless a cached copy already exists.
func ModulePath(ctx context.Context, client *http.Client, cfg types.WASMConfig) (string, error) {
	if cfg.ModulePath != "" {
		if _, err := os.Stat(cfg.ModulePath); err != nil {
			return "", fmt.Errorf("wasm module %s: %w", cfg.ModulePath, err)
		}
		return cfg.ModulePath, nil
	}
	if cfg.ModuleURL == "" {
		return "", fmt.Errorf("no wasm module configured: set engine.wasm.module_path or engine.wasm.module_url")
	}

	cached := filepath.Join(cacheDir(cfg), moduleFile)
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}
	if err := Fetch(ctx, client, cfg); err != nil {
		return "", err
	}
	return cached, nil
}

// Fetch downloads the module at cfg.ModuleURL into the cache directory,
// replacing any cached copy. The download is written to a temporary file
// and renamed into place once it is known to be a wasm binary.
func Fetch(ctx context.Context, client *http.Client, cfg types.WASMConfig) error {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir := cacheDir(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.ModuleURL, nil)
	if err != nil {
		return fmt.Errorf("building module request: %w", err)
	}
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	resp, err := httputil.DoWithRetry(ctx, client, req, cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("fetching wasm module from %s: %w", cfg.ModuleURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching wasm module from %s: HTTP %d", cfg.ModuleURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, moduleFile+".*.part")
	if err != nil {
		return fmt.Errorf("creating temporary module file: %w", err)
	}
	defer os.Remove(tmp.Name())

	head := make([]byte, len(wasmMagic))
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		tmp.Close()
		return fmt.Errorf("reading wasm module from %s: %w", cfg.ModuleURL, err)
	}
	if !bytes.Equal(head[:n], wasmMagic) {
		tmp.Close()
		return fmt.Errorf("fetched %s is not a wasm module", cfg.ModuleURL)
	}
	if _, err := tmp.Write(head); err != nil {
		tmp.Close()
		return fmt.Errorf("writing module: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing module: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing module: %w", err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, moduleFile)); err != nil {
		return fmt.Errorf("installing module: %w", err)
	}
	return nil
}

func cacheDir(cfg types.WASMConfig) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "scad2stl")
	}
	return filepath.Join(os.TempDir(), "scad2stl")
}
