// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pdiddy/scad2stl/internal/container"
	"github.com/pdiddy/scad2stl/pkg/types"
)

const defaultImage = "openscad/openscad:latest"

// ContainerEngine renders by piping source through the openscad image.
type ContainerEngine struct {
	image  string
	detect func() (container.Runtime, error)
	logger *slog.Logger

	runtime container.Runtime
}

// NewContainerEngine creates a container backend. The runtime (docker or
// podman) is detected during Initialize.
func NewContainerEngine(cfg types.ContainerConfig, logger *slog.Logger) *ContainerEngine {
	image := cfg.Image
	if image == "" {
		image = defaultImage
	}
	return &ContainerEngine{image: image, detect: container.DetectRuntime, logger: logger}
}

func (c *ContainerEngine) Name() string { return string(types.BackendContainer) }

// Initialize detects a container runtime and verifies the image is present.
func (c *ContainerEngine) Initialize(ctx context.Context) error {
	rt, err := c.detect()
	if err != nil {
		return err
	}
	if err := rt.ImageExists(c.image); err != nil {
		return fmt.Errorf("openscad image not available in %s: %w", rt.Name(), err)
	}
	c.runtime = rt
	c.logger.Info("container engine ready", "runtime", rt.Name(), "image", c.image)
	return nil
}

// Render reads source from stdin inside the container and collects the
// mesh from stdout.
func (c *ContainerEngine) Render(ctx context.Context, source string) ([]byte, error) {
	if c.runtime == nil {
		return nil, ErrNotInitialized
	}

	var stdout, stderr bytes.Buffer
	args := []string{"openscad", "--export-format", exportFormat, "-o", "-", "-"}
	if err := c.runtime.Run(ctx, c.image, args, strings.NewReader(source), &stdout, &stderr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("render interrupted: %w", ctxErr)
		}
		return nil, &RenderError{Backend: c.Name(), Message: diagnostic(stderr.Bytes()), Err: err}
	}
	return stdout.Bytes(), nil
}

func (c *ContainerEngine) Close(context.Context) error { return nil }
