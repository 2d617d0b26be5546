// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the scad2stl CLI: a web converter
// from OpenSCAD source to STL meshes, plus batch conversion, engine
// management and conversion history commands.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/scad2stl/internal/logging"
	"github.com/pdiddy/scad2stl/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is built in PersistentPreRunE once flags are parsed.
var logger = logging.NewNop()

// loadedSecrets holds credentials loaded from .secrets/ at startup.
var loadedSecrets = secrets.Secrets{}

// rootCmd is the base command for the scad2stl CLI.
var rootCmd = &cobra.Command{
	Use:   "scad2stl",
	Short: "Convert OpenSCAD source to STL meshes",
	Long: `scad2stl turns OpenSCAD source into STL meshes for 3D printing.

"serve" runs the web converter: paste code, press the button, receive
model.stl. "convert" runs the same conversion on files from the command
line. The OpenSCAD engine is hosted in-process as a WASI module (wasm), as a
local openscad binary (cli), or in a docker/podman image (container).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if viper.GetBool("debug") {
			level = slog.LevelDebug
		}
		logger = logging.New(level)

		s, err := secrets.Load(secrets.DefaultDir, logger)
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			logger.Debug("loaded secrets", "keys", s.Keys())
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./scad2stl.yaml or ~/.config/scad2stl/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().String("backend", "", "engine backend: wasm, cli, or container")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("engine.backend", rootCmd.PersistentFlags().Lookup("backend"))

	setDefaults(viper.GetViper())
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("scad2stl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "scad2stl"))
		}
	}

	viper.SetEnvPrefix("SCAD2STL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
