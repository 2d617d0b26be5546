// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/pdiddy/scad2stl/internal/controller"
	"github.com/pdiddy/scad2stl/internal/engine"
	"github.com/pdiddy/scad2stl/internal/history"
	"github.com/pdiddy/scad2stl/internal/notify"
	"github.com/pdiddy/scad2stl/internal/secrets"
	"github.com/pdiddy/scad2stl/pkg/types"
)

// setDefaults registers every config key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.backend", string(types.BackendWASM))
	v.SetDefault("engine.render_timeout", time.Duration(0))
	v.SetDefault("engine.wasm.module_path", "")
	v.SetDefault("engine.wasm.module_url", "")
	v.SetDefault("engine.wasm.cache_dir", "")
	v.SetDefault("engine.wasm.fetch_timeout", 2*time.Minute)
	v.SetDefault("engine.wasm.max_retries", 5)
	v.SetDefault("engine.wasm.auth_token", "")
	v.SetDefault("engine.cli.binary", "openscad")
	v.SetDefault("engine.container.image", "openscad/openscad:latest")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dir", defaultHistoryDir())
	v.SetDefault("history.max_results", 20)
}

func defaultHistoryDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "scad2stl")
	}
	return ".scad2stl"
}

// loadConfig decodes the viper settings using the yaml tags on types.Config.
// A module token from .secrets/ fills engine.wasm.auth_token when unset.
func loadConfig(v *viper.Viper) (types.Config, error) {
	var cfg types.Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	})
	if err != nil {
		return types.Config{}, fmt.Errorf("reading config: %w", err)
	}
	if cfg.Engine.WASM.AuthToken == "" {
		cfg.Engine.WASM.AuthToken = loadedSecrets.Get(secrets.ModuleTokenKey)
	}
	return cfg, nil
}

// session is a controller wired to the configured engine and history.
type session struct {
	ctrl    *controller.Controller
	engine  engine.Engine
	history *history.Store
}

// newSession builds the engine and controller for cfg. The caller must
// call close.
func newSession(cfg types.Config, n notify.Notifier, observers ...controller.Observer) (*session, error) {
	eng, err := engine.New(cfg.Engine, logger)
	if err != nil {
		return nil, err
	}

	s := &session{engine: eng}
	if cfg.History.Enabled {
		s.history, err = history.NewStore(cfg.History, logger)
		if err != nil {
			return nil, err
		}
		observers = append(observers, s.history)
	}

	s.ctrl = controller.New(eng, n, logger,
		controller.WithObservers(observers...),
		controller.WithRenderTimeout(cfg.Engine.RenderTimeout),
	)
	return s, nil
}

func (s *session) close(ctx context.Context) {
	if err := s.engine.Close(ctx); err != nil {
		logger.Warn("closing engine", "error", err)
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			logger.Warn("closing history", "error", err)
		}
	}
}
