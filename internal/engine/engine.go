// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package engine hosts the OpenSCAD geometry engine behind a two-call
// binding: Initialize once, then Render source text to STL bytes. The
// engine itself is opaque; backends differ only in how it is hosted
// (an in-process WASI module, a local binary, or a container image).
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pdiddy/scad2stl/pkg/types"
)

const (
	inputFile  = "input.scad"
	outputFile = "model.stl"

	// exportFormat is passed to openscad so every backend emits binary STL.
	exportFormat = "binstl"

	maxMessageLen = 500
)

// ErrNotInitialized is returned by Render before a successful Initialize.
var ErrNotInitialized = errors.New("engine not initialized")

// Engine is the binding to the OpenSCAD geometry engine.
type Engine interface {
	// Name identifies the backend ("wasm", "cli", "container").
	Name() string

	// Initialize loads the engine. It is called once per process.
	Initialize(ctx context.Context) error

	// Render evaluates source and returns the STL mesh. A nil error with
	// zero bytes means the engine produced no output.
	Render(ctx context.Context, source string) ([]byte, error)

	// Close releases engine resources.
	Close(ctx context.Context) error
}

// RenderError is a failure reported by the engine while rendering. Message
// is the engine's own diagnostic when it printed one.
type RenderError struct {
	Backend  string
	ExitCode int
	Message  string
	Err      error
}

func (e *RenderError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("openscad (%s) failed: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("openscad (%s) exited with code %d", e.Backend, e.ExitCode)
}

func (e *RenderError) Unwrap() error { return e.Err }

// New builds the engine selected by cfg.Backend. An empty backend selects wasm.
func New(cfg types.EngineConfig, logger *slog.Logger) (Engine, error) {
	switch cfg.Backend {
	case types.BackendWASM, "":
		return NewWASMEngine(cfg.WASM, http.DefaultClient, logger), nil
	case types.BackendCLI:
		return NewCLIEngine(cfg.CLI, logger), nil
	case types.BackendContainer:
		return NewContainerEngine(cfg.Container, logger), nil
	default:
		return nil, fmt.Errorf("unknown engine backend %q: want wasm, cli, or container", cfg.Backend)
	}
}

// renderArgs builds the openscad command line for a file-to-file render.
func renderArgs(in, out string) []string {
	return []string{"-o", out, "--export-format", exportFormat, in}
}

// diagnostic extracts the most useful part of openscad's stderr: its ERROR
// lines when present, otherwise the last non-empty line.
func diagnostic(stderr []byte) string {
	var errs []string
	var last string
	for _, line := range strings.Split(string(bytes.TrimSpace(stderr)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		last = line
		if strings.HasPrefix(line, "ERROR") {
			errs = append(errs, line)
		}
	}

	msg := last
	if len(errs) > 0 {
		msg = strings.Join(errs, "; ")
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen-3] + "..."
	}
	return msg
}
