// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package controller mediates between the user's source text, the OpenSCAD
// engine binding, and user-facing feedback. It owns the readiness,
// source-text and in-progress state; every engine outcome becomes a
// notification and an Outcome value, never a propagated error.
package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pdiddy/scad2stl/internal/download"
	"github.com/pdiddy/scad2stl/internal/engine"
	"github.com/pdiddy/scad2stl/internal/notify"
	"github.com/pdiddy/scad2stl/internal/stl"
	"github.com/pdiddy/scad2stl/pkg/types"
)

// User-facing messages.
const (
	MsgEngineReady        = "OpenSCAD engine initialized and ready!"
	MsgEngineInitFailed   = "Error initializing OpenSCAD engine."
	MsgNotReady           = "OpenSCAD engine is not ready. Please wait or refresh."
	MsgEmptySource        = "OpenSCAD code cannot be empty."
	MsgBusy               = "A conversion is already in progress."
	MsgConverting         = "Converting to STL..."
	MsgEmptyOutput        = "Generated STL is empty. Your OpenSCAD code might not produce any geometry or might contain errors not caught by the engine."
	MsgSuccess            = "Conversion Successful! STL file download started."
	MsgConversionFailed   = "Conversion failed. Check your OpenSCAD code and the log for details."
	conversionErrorPrefix = "Conversion error: "
)

// Button labels for the action control.
const (
	LabelConvert      = "Convert to STL"
	LabelConverting   = "Converting..."
	LabelInitializing = "Initializing Engine..."
)

// Observer receives one record per conversion attempt that passed the
// readiness, source and in-progress checks.
type Observer interface {
	Observe(ctx context.Context, rec types.ConversionRecord)
}

// ReadinessObserver is optionally implemented by observers that track the
// engine readiness transition.
type ReadinessObserver interface {
	ObserveReadiness(r types.Readiness)
}

// RejectionObserver is optionally implemented by observers that count
// attempts rejected before reaching the engine.
type RejectionObserver interface {
	ObserveRejection(status types.ConversionStatus)
}

// Outcome is the result of Convert.
type Outcome struct {
	Status  types.ConversionStatus `json:"status"`
	Message string                 `json:"message"`
	Bytes   int                    `json:"bytes,omitempty"`
	Format  string                 `json:"format,omitempty"`
	Facets  int                    `json:"facets,omitempty"`
}

// OK reports whether the mesh was produced and saved.
func (o Outcome) OK() bool { return o.Status == types.ConversionDone }

// View is the snapshot rendered by the presentation shell.
type View struct {
	Readiness   types.Readiness `json:"readiness"`
	Backend     string          `json:"backend"`
	Source      string          `json:"source"`
	Busy        bool            `json:"busy"`
	CanConvert  bool            `json:"can_convert"`
	ButtonLabel string          `json:"button_label"`
	InitError   string          `json:"init_error,omitempty"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithObservers registers conversion observers.
func WithObservers(obs ...Observer) Option {
	return func(c *Controller) { c.observers = append(c.observers, obs...) }
}

// WithYield replaces the step that runs between showing the loading
// notification and calling the engine. The default is runtime.Gosched.
func WithYield(yield func()) Option {
	return func(c *Controller) { c.yield = yield }
}

// WithRenderTimeout bounds each render. Zero, the default, means none.
func WithRenderTimeout(d time.Duration) Option {
	return func(c *Controller) { c.renderTimeout = d }
}

// Controller is safe for concurrent use; at most one conversion runs at a
// time and concurrent attempts are rejected, not queued.
type Controller struct {
	engine        engine.Engine
	notifier      notify.Notifier
	logger        *slog.Logger
	observers     []Observer
	yield         func()
	renderTimeout time.Duration
	now           func() time.Time

	initOnce sync.Once

	mu        sync.Mutex
	readiness types.Readiness
	source    string
	busy      bool
}

// New creates a controller in the not-ready state with the default source.
func New(eng engine.Engine, n notify.Notifier, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		engine:    eng,
		notifier:  n,
		logger:    logger,
		yield:     runtime.Gosched,
		now:       time.Now,
		readiness: types.Readiness{State: types.EngineNotReady},
		source:    types.DefaultSource,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize loads the engine. It runs once; later calls wait for the first
// to finish and return the same readiness. A failure is terminal for the
// controller's lifetime.
func (c *Controller) Initialize(ctx context.Context) types.Readiness {
	c.initOnce.Do(func() { c.initialize(ctx) })
	return c.Readiness()
}

func (c *Controller) initialize(ctx context.Context) {
	c.logger.Info("initializing OpenSCAD engine", "backend", c.engine.Name())
	start := c.now()

	r := types.Readiness{State: types.EngineReady}
	if err := c.engine.Initialize(ctx); err != nil {
		c.logger.Error("engine initialization failed", "backend", c.engine.Name(), "error", err)
		r = types.Readiness{
			State:   types.EngineFailed,
			Message: fmt.Sprintf("Failed to initialize OpenSCAD engine: %s. Check the log for details.", err),
		}
	} else {
		c.logger.Info("OpenSCAD engine initialized", "backend", c.engine.Name(), "elapsed", c.now().Sub(start))
	}

	c.mu.Lock()
	c.readiness = r
	c.mu.Unlock()

	for _, o := range c.observers {
		if ro, ok := o.(ReadinessObserver); ok {
			ro.ObserveReadiness(r)
		}
	}

	if r.Ready() {
		c.notifier.Success(MsgEngineReady)
	} else {
		c.notifier.Error(MsgEngineInitFailed)
	}
}

// Readiness returns the current engine readiness.
func (c *Controller) Readiness() types.Readiness {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readiness
}

// SetSource replaces the source text.
func (c *Controller) SetSource(src string) {
	c.mu.Lock()
	c.source = src
	c.mu.Unlock()
}

// Source returns the source text.
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Busy reports whether a conversion is in progress.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// View snapshots the state for rendering. Both controls are enabled only
// when the engine is ready and no conversion is running.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		Readiness:  c.readiness,
		Backend:    c.engine.Name(),
		Source:     c.source,
		Busy:       c.busy,
		CanConvert: c.readiness.Ready() && !c.busy,
	}
	switch {
	case c.busy:
		v.ButtonLabel = LabelConverting
	case c.readiness.Ready():
		v.ButtonLabel = LabelConvert
	default:
		v.ButtonLabel = LabelInitializing
	}
	if c.readiness.Failed() {
		v.InitError = c.readiness.Message
	}
	return v
}

// Convert renders source and hands the mesh to dst as model.stl. Rejected
// attempts notify and return without touching the engine. The in-progress
// flag is cleared on every return path.
func (c *Controller) Convert(ctx context.Context, source string, dst download.Saver) Outcome {
	if out, ok := c.claim(source); !ok {
		c.notifier.Error(out.Message)
		for _, o := range c.observers {
			if ro, ok := o.(RejectionObserver); ok {
				ro.ObserveRejection(out.Status)
			}
		}
		c.logger.Debug("conversion rejected", "status", out.Status)
		return out
	}
	defer c.release()

	loadingID := c.notifier.Loading(MsgConverting)
	c.yield()

	rec := types.ConversionRecord{
		StartedAt:    c.now().UTC(),
		Backend:      c.engine.Name(),
		SourceDigest: digest(source),
		SourceBytes:  len(source),
	}

	out := c.run(ctx, source, dst)

	c.notifier.Dismiss(loadingID)
	if out.OK() {
		c.notifier.Success(out.Message)
	} else {
		c.notifier.Error(out.Message)
	}

	rec.Duration = c.now().UTC().Sub(rec.StartedAt)
	rec.Status = out.Status
	rec.OutputBytes = out.Bytes
	rec.Format = out.Format
	rec.Facets = out.Facets
	if !out.OK() {
		rec.Message = out.Message
	}
	for _, o := range c.observers {
		o.Observe(ctx, rec)
	}

	c.logger.Info("conversion finished",
		"status", out.Status,
		"bytes", out.Bytes,
		"facets", out.Facets,
		"duration", rec.Duration,
	)
	return out
}

// claim checks the preconditions and sets the in-progress flag.
func (c *Controller) claim(source string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.readiness.Ready():
		return Outcome{Status: types.ConversionNotReady, Message: MsgNotReady}, false
	case types.BlankSource(source):
		return Outcome{Status: types.ConversionRejected, Message: MsgEmptySource}, false
	case c.busy:
		return Outcome{Status: types.ConversionBusy, Message: MsgBusy}, false
	}
	c.busy = true
	return Outcome{}, true
}

func (c *Controller) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// run calls the engine and the saver and maps the result to an Outcome.
func (c *Controller) run(ctx context.Context, source string, dst download.Saver) Outcome {
	if c.renderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.renderTimeout)
		defer cancel()
	}

	data, err := c.render(ctx, source)
	if err != nil {
		c.logger.Error("render failed", "backend", c.engine.Name(), "error", err)
		return Outcome{Status: types.ConversionFailed, Message: failureMessage(err)}
	}
	c.logger.Debug("mesh generated", "bytes", len(data))

	if len(data) == 0 {
		return Outcome{Status: types.ConversionEmpty, Message: conversionErrorPrefix + MsgEmptyOutput}
	}

	out := Outcome{Status: types.ConversionDone, Message: MsgSuccess, Bytes: len(data)}
	if info, err := stl.Inspect(data); err != nil {
		c.logger.Warn("engine output is not a recognizable STL mesh", "error", err)
	} else {
		out.Format = string(info.Format)
		out.Facets = info.Facets
	}

	if err := dst.Save(types.OutputFilename, types.STLMediaType, data); err != nil {
		c.logger.Error("saving mesh failed", "error", err)
		return Outcome{Status: types.ConversionFailed, Message: failureMessage(err), Bytes: len(data)}
	}
	return out
}

// render calls the engine, turning a panic inside the binding into an error.
func (c *Controller) render(ctx context.Context, source string) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return c.engine.Render(ctx, source)
}

func failureMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return MsgConversionFailed
	}
	return conversionErrorPrefix + msg
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
