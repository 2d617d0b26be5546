// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/pdiddy/scad2stl/pkg/types"
)

// guestDir is where the scratch directory is mounted inside the module.
const guestDir = "/work"

// WASMEngine runs a WASI command build of OpenSCAD with wazero. The module
// is compiled once by Initialize; every Render instantiates a fresh,
// anonymous instance over its own scratch directory, so instances never
// share memory.
type WASMEngine struct {
	cfg    types.WASMConfig
	load   func(ctx context.Context) ([]byte, error)
	logger *slog.Logger

	mu       sync.Mutex
	rt       wazero.Runtime
	compiled wazero.CompiledModule
	cache    wazero.CompilationCache
}

// NewWASMEngine creates a wasm backend. The module is resolved with
// ModulePath when Initialize runs.
func NewWASMEngine(cfg types.WASMConfig, client *http.Client, logger *slog.Logger) *WASMEngine {
	return &WASMEngine{
		cfg:    cfg,
		logger: logger,
		load: func(ctx context.Context) ([]byte, error) {
			path, err := ModulePath(ctx, client, cfg)
			if err != nil {
				return nil, err
			}
			logger.Info("loading wasm module", "path", path)
			return os.ReadFile(path)
		},
	}
}

func (w *WASMEngine) Name() string { return string(types.BackendWASM) }

// Initialize loads and compiles the module. It is a no-op once it has
// succeeded.
func (w *WASMEngine) Initialize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.compiled != nil {
		return nil
	}

	code, err := w.load(ctx)
	if err != nil {
		return err
	}

	rcfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	var cache wazero.CompilationCache
	if w.cfg.CacheDir != "" {
		cache, err = wazero.NewCompilationCacheWithDir(filepath.Join(w.cfg.CacheDir, "compiled"))
		if err != nil {
			w.logger.Warn("compilation cache disabled", "error", err)
			cache = nil
		} else {
			rcfg = rcfg.WithCompilationCache(cache)
		}
	}
	fail := func(rt wazero.Runtime) {
		rt.Close(ctx)
		if cache != nil {
			cache.Close(ctx)
		}
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		fail(rt)
		return fmt.Errorf("instantiating WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		fail(rt)
		return fmt.Errorf("compiling wasm module: %w", err)
	}

	w.rt = rt
	w.compiled = compiled
	w.cache = cache
	w.logger.Debug("wasm module compiled", "imports", len(compiled.ImportedFunctions()))
	return nil
}

// Render writes source into a scratch directory mounted at /work, runs the
// module's _start with openscad arguments, and reads back the mesh.
func (w *WASMEngine) Render(ctx context.Context, source string) ([]byte, error) {
	w.mu.Lock()
	rt, compiled := w.rt, w.compiled
	w.mu.Unlock()
	if compiled == nil {
		return nil, ErrNotInitialized
	}

	dir, err := os.MkdirTemp("", "scad2stl-wasm-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, inputFile), []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("writing source: %w", err)
	}

	var stdout, stderr bytes.Buffer
	args := append([]string{"openscad"}, renderArgs(guestDir+"/"+inputFile, guestDir+"/"+outputFile)...)
	mcfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(args...).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStdin(strings.NewReader("")).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(dir, guestDir))

	mod, err := rt.InstantiateModule(ctx, compiled, mcfg)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("render interrupted: %w", ctxErr)
			}
			return nil, &RenderError{Backend: w.Name(), Message: diagnostic(stderr.Bytes()), Err: err}
		}
		if exitErr.ExitCode() != 0 {
			return nil, &RenderError{
				Backend:  w.Name(),
				ExitCode: int(exitErr.ExitCode()),
				Message:  diagnostic(stderr.Bytes()),
			}
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, outputFile))
	if errors.Is(err, os.ErrNotExist) {
		w.logger.Debug("engine wrote no output", "stderr", diagnostic(stderr.Bytes()))
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mesh: %w", err)
	}
	return data, nil
}

// Close releases the runtime, the compiled module and the compilation cache.
func (w *WASMEngine) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rt == nil {
		return nil
	}
	err := w.rt.Close(ctx)
	if w.cache != nil {
		err = errors.Join(err, w.cache.Close(ctx))
	}
	w.rt, w.compiled, w.cache = nil, nil, nil
	return err
}
