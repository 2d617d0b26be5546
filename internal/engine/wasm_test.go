// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scad2stl/internal/logging"
	"github.com/pdiddy/scad2stl/pkg/types"
)

// noopCommand is a WASI command module whose _start returns immediately,
// standing in for an engine that writes no mesh.
var noopCommand = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type: () -> ()
	0x03, 0x02, 0x01, 0x00, // func 0 has type 0
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x00, // export "_start"
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b, // body: end
}

// exitCommand is a WASI command module whose _start calls proc_exit(3).
var exitCommand = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x08, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00, // types: (i32) -> (), () -> ()
	0x02, 0x24, 0x01, // import section, one entry
	0x16, 'w', 'a', 's', 'i', '_', 's', 'n', 'a', 'p', 's', 'h', 'o', 't', '_', 'p', 'r', 'e', 'v', 'i', 'e', 'w', '1',
	0x09, 'p', 'r', 'o', 'c', '_', 'e', 'x', 'i', 't', 0x00, 0x00, // func 0: proc_exit, type 0
	0x03, 0x02, 0x01, 0x01, // func 1 has type 1
	0x07, 0x0a, 0x01, 0x06, '_', 's', 't', 'a', 'r', 't', 0x00, 0x01, // export "_start"
	0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, 0x03, 0x10, 0x00, 0x0b, // body: i32.const 3; call 0; end
}

func newTestWASM(code []byte, loadErr error, loads *int) *WASMEngine {
	e := NewWASMEngine(types.WASMConfig{}, nil, logging.NewNop())
	e.load = func(context.Context) ([]byte, error) {
		*loads++
		return code, loadErr
	}
	return e
}

func TestWASMEngine_InitializeOnce(t *testing.T) {
	ctx := context.Background()
	var loads int
	e := newTestWASM(noopCommand, nil, &loads)
	defer e.Close(ctx)

	require.NoError(t, e.Initialize(ctx))
	require.NoError(t, e.Initialize(ctx))
	assert.Equal(t, 1, loads)
}

func TestWASMEngine_InitializeErrors(t *testing.T) {
	ctx := context.Background()
	var loads int

	e := newTestWASM(nil, errors.New("no wasm module configured"), &loads)
	assert.ErrorContains(t, e.Initialize(ctx), "no wasm module configured")

	e = newTestWASM([]byte("not wasm at all"), nil, &loads)
	assert.ErrorContains(t, e.Initialize(ctx), "compiling wasm module")

	_, err := e.Render(ctx, "cube(1);")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestWASMEngine_RenderWithoutOutput(t *testing.T) {
	ctx := context.Background()
	var loads int
	e := newTestWASM(noopCommand, nil, &loads)
	require.NoError(t, e.Initialize(ctx))
	defer e.Close(ctx)

	got, err := e.Render(ctx, "cube(10);")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWASMEngine_RenderNonZeroExit(t *testing.T) {
	ctx := context.Background()
	var loads int
	e := newTestWASM(exitCommand, nil, &loads)
	require.NoError(t, e.Initialize(ctx))
	defer e.Close(ctx)

	for range 2 {
		_, err := e.Render(ctx, "cube(10);")
		var re *RenderError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, 3, re.ExitCode)
		assert.Equal(t, "openscad (wasm) exited with code 3", err.Error())
	}
}

func TestWASMEngine_CompilationCache(t *testing.T) {
	ctx := context.Background()
	var loads int
	e := newTestWASM(noopCommand, nil, &loads)
	e.cfg.CacheDir = t.TempDir()
	require.NoError(t, e.Initialize(ctx))
	require.NotNil(t, e.cache)

	require.NoError(t, e.Close(ctx))
	assert.Nil(t, e.cache)
}

func TestWASMEngine_Close(t *testing.T) {
	ctx := context.Background()
	var loads int
	e := newTestWASM(noopCommand, nil, &loads)
	require.NoError(t, e.Initialize(ctx))

	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	_, err := e.Render(ctx, "cube(1);")
	assert.ErrorIs(t, err, ErrNotInitialized)
}
