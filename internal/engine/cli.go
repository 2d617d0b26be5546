// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pdiddy/scad2stl/pkg/types"
)

const defaultBinary = "openscad"

// commander abstracts process execution for testing.
type commander interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error
}

type osCommander struct{}

func (osCommander) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (osCommander) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// CLIEngine renders with a locally installed openscad binary.
type CLIEngine struct {
	binary string
	cmd    commander
	logger *slog.Logger

	path string
}

// NewCLIEngine creates a cli backend for cfg.Binary (default "openscad").
func NewCLIEngine(cfg types.CLIConfig, logger *slog.Logger) *CLIEngine {
	bin := cfg.Binary
	if bin == "" {
		bin = defaultBinary
	}
	return &CLIEngine{binary: bin, cmd: osCommander{}, logger: logger}
}

func (c *CLIEngine) Name() string { return string(types.BackendCLI) }

// Initialize locates the binary and checks that it runs.
func (c *CLIEngine) Initialize(ctx context.Context) error {
	path, err := c.cmd.LookPath(c.binary)
	if err != nil {
		return fmt.Errorf("openscad binary %q not found: %w", c.binary, err)
	}

	// openscad prints its version on stderr.
	var out bytes.Buffer
	if err := c.cmd.Run(ctx, path, []string{"--version"}, &out, &out); err != nil {
		return fmt.Errorf("running %s --version: %w", path, err)
	}
	c.path = path
	c.logger.Info("openscad binary found", "path", path, "version", diagnostic(out.Bytes()))
	return nil
}

// Render writes source to a temporary file and renders it to binary STL.
func (c *CLIEngine) Render(ctx context.Context, source string) ([]byte, error) {
	if c.path == "" {
		return nil, ErrNotInitialized
	}

	dir, err := os.MkdirTemp("", "scad2stl-cli-*")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, inputFile)
	out := filepath.Join(dir, outputFile)
	if err := os.WriteFile(in, []byte(source), 0o644); err != nil {
		return nil, fmt.Errorf("writing source: %w", err)
	}

	var stderr bytes.Buffer
	if err := c.cmd.Run(ctx, c.path, renderArgs(in, out), io.Discard, &stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("render interrupted: %w", ctxErr)
		}
		rerr := &RenderError{Backend: c.Name(), Message: diagnostic(stderr.Bytes()), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rerr.ExitCode = exitErr.ExitCode()
		}
		return nil, rerr
	}

	data, err := os.ReadFile(out)
	if errors.Is(err, os.ErrNotExist) {
		return []byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mesh: %w", err)
	}
	return data, nil
}

func (c *CLIEngine) Close(context.Context) error { return nil }
