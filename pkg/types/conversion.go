// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types holds the configuration and domain types shared by the
// scad2stl packages.
package types

import (
	"strings"
	"time"
)

const (
	// DefaultSource is the placeholder shown in a fresh editor.
	DefaultSource = "// Example: A simple cube\ncube(10);"

	// OutputFilename is the name of every downloaded mesh.
	OutputFilename = "model.stl"

	// STLMediaType is the media type attached to downloaded meshes.
	STLMediaType = "application/vnd.ms-pki.stl"
)

// ConversionStatus is the outcome of a single conversion attempt.
type ConversionStatus string

const (
	// ConversionDone means the engine produced a mesh and it was saved.
	ConversionDone ConversionStatus = "converted"
	// ConversionEmpty means the engine returned zero bytes.
	ConversionEmpty ConversionStatus = "empty"
	// ConversionFailed means the engine or the saver returned an error.
	ConversionFailed ConversionStatus = "failed"
	// ConversionRejected means a precondition failed and the engine was not called.
	ConversionRejected ConversionStatus = "rejected"
	// ConversionBusy means another conversion was already in progress.
	ConversionBusy ConversionStatus = "busy"
	// ConversionNotReady means the engine was not initialized.
	ConversionNotReady ConversionStatus = "not_ready"
)

// ReadinessState enumerates the engine readiness values.
type ReadinessState string

const (
	EngineNotReady ReadinessState = "initializing"
	EngineReady    ReadinessState = "ready"
	EngineFailed   ReadinessState = "failed"
)

// Readiness is the engine readiness value owned by the controller. Message
// is only set when State is EngineFailed.
type Readiness struct {
	State   ReadinessState `json:"state" yaml:"state"`
	Message string         `json:"message,omitempty" yaml:"message,omitempty"`
}

// Ready reports whether conversions may be attempted.
func (r Readiness) Ready() bool { return r.State == EngineReady }

// Failed reports whether initialization failed.
func (r Readiness) Failed() bool { return r.State == EngineFailed }

// ConversionRecord describes one conversion attempt that reached the engine.
// The source text itself is never recorded; only its digest and size.
type ConversionRecord struct {
	ID           int64            `json:"id" yaml:"id"`
	StartedAt    time.Time        `json:"started_at" yaml:"started_at"`
	Duration     time.Duration    `json:"duration" yaml:"duration"`
	Backend      string           `json:"backend" yaml:"backend"`
	Status       ConversionStatus `json:"status" yaml:"status"`
	Message      string           `json:"message,omitempty" yaml:"message,omitempty"`
	SourceDigest string           `json:"source_digest" yaml:"source_digest"`
	SourceBytes  int              `json:"source_bytes" yaml:"source_bytes"`
	OutputBytes  int              `json:"output_bytes" yaml:"output_bytes"`
	Format       string           `json:"format,omitempty" yaml:"format,omitempty"`
	Facets       int              `json:"facets" yaml:"facets"`
}

// BlankSource reports whether src is empty after trimming whitespace.
func BlankSource(src string) bool {
	return strings.TrimSpace(src) == ""
}
