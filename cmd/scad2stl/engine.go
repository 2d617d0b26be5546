// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/scad2stl/internal/engine"
	"github.com/pdiddy/scad2stl/pkg/types"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Check or prepare the OpenSCAD engine",
	Long: `Engine inspects the configured OpenSCAD backend. Use "check" to load it
the way the converter does at startup, and "fetch" to download the WASI
module into the cache ahead of time.`,
}

// --- check subcommand ---

var engineCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Initialize the configured engine and report the result",
	RunE:  runEngineCheck,
}

func runEngineCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg.Engine, logger)
	if err != nil {
		return err
	}
	defer eng.Close(context.Background())

	start := time.Now()
	if err := eng.Initialize(cmd.Context()); err != nil {
		fmt.Printf("engine  %s: failed: %v\n", eng.Name(), err)
		return fmt.Errorf("engine %s is not usable", eng.Name())
	}
	fmt.Printf("engine  %s: ready (%s)\n", eng.Name(), time.Since(start).Round(time.Millisecond))
	return nil
}

// --- fetch subcommand ---

var engineFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the OpenSCAD WASI module into the cache",
	Long: `Fetch downloads engine.wasm.module_url into engine.wasm.cache_dir,
replacing any cached copy. Responses with status 429 or 5xx are retried
with exponential backoff.`,
	RunE: runEngineFetch,
}

func runEngineFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Engine.WASM.ModuleURL = url
	}
	if cfg.Engine.WASM.ModuleURL == "" {
		return fmt.Errorf("no module url: set engine.wasm.module_url or pass --url")
	}

	wasm := cfg.Engine.WASM
	wasm.ModulePath = ""
	if err := engine.Fetch(cmd.Context(), http.DefaultClient, wasm); err != nil {
		return err
	}
	path, err := engine.ModulePath(cmd.Context(), http.DefaultClient, wasm)
	if err != nil {
		return err
	}
	fmt.Printf("fetched %s\n", path)

	if cfg.Engine.Backend != types.BackendWASM {
		fmt.Printf("note: engine.backend is %q; set it to %q to use the module\n", cfg.Engine.Backend, types.BackendWASM)
	}
	return nil
}

func init() {
	engineFetchCmd.Flags().String("url", "", "module url (overrides engine.wasm.module_url)")

	engineCmd.AddCommand(engineCheckCmd)
	engineCmd.AddCommand(engineFetchCmd)

	rootCmd.AddCommand(engineCmd)
}
