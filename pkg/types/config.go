// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// EngineBackend identifies how the OpenSCAD engine is hosted.
type EngineBackend string

const (
	BackendWASM      EngineBackend = "wasm"
	BackendCLI       EngineBackend = "cli"
	BackendContainer EngineBackend = "container"
)

// WASMConfig holds settings for the in-process WASI build of OpenSCAD.
type WASMConfig struct {
	// ModulePath is a local path to the OpenSCAD WASI module. When empty the
	// module is fetched from ModuleURL into CacheDir.
	ModulePath string `json:"module_path" yaml:"module_path"`

	// ModuleURL is the download location used when ModulePath is empty.
	ModuleURL string `json:"module_url" yaml:"module_url"`

	// CacheDir holds the fetched module and wazero's compilation cache.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// FetchTimeout bounds the module download (default 2m).
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`

	// MaxRetries is the number of retry attempts for the module download (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// AuthToken is sent as a bearer token with the module download. It is
	// normally loaded from .secrets/wasm-module-token.
	AuthToken string `json:"-" yaml:"auth_token"`
}

// CLIConfig holds settings for a locally installed openscad binary.
type CLIConfig struct {
	// Binary is the openscad executable name or path (default "openscad").
	Binary string `json:"binary" yaml:"binary"`
}

// ContainerConfig holds settings for running OpenSCAD in docker or podman.
type ContainerConfig struct {
	// Image is the OpenSCAD container image (default "openscad/openscad:latest").
	Image string `json:"image" yaml:"image"`
}

// EngineConfig selects and configures the geometry engine backend.
type EngineConfig struct {
	// Backend selects the engine host: wasm, cli, or container.
	Backend EngineBackend `json:"backend" yaml:"backend"`

	// RenderTimeout bounds a single render. Zero means no timeout.
	RenderTimeout time.Duration `json:"render_timeout" yaml:"render_timeout"`

	WASM      WASMConfig      `json:"wasm" yaml:"wasm"`
	CLI       CLIConfig       `json:"cli" yaml:"cli"`
	Container ContainerConfig `json:"container" yaml:"container"`
}

// ServerConfig holds settings for the web front end.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr" yaml:"addr"`

	// ShutdownTimeout bounds graceful shutdown (default 5s).
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// HistoryConfig holds settings for the conversion history log.
type HistoryConfig struct {
	// Enabled turns history recording on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Dir is the directory containing the history database and exports.
	Dir string `json:"dir" yaml:"dir"`

	// MaxResults is the default number of records returned by List (default 20).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// Config groups all settings for scad2stl.
type Config struct {
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	History HistoryConfig `json:"history" yaml:"history"`
}
