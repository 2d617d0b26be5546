// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/scad2stl/internal/controller"
	"github.com/pdiddy/scad2stl/internal/download"
	"github.com/pdiddy/scad2stl/internal/notify"
	"github.com/pdiddy/scad2stl/pkg/types"
)

const stdinArg = "-"

var convertCmd = &cobra.Command{
	Use:   "convert [files...]",
	Short: "Convert OpenSCAD files to STL",
	Long: `Convert renders each OpenSCAD file to <out>/<name>.stl through the same
controller the web converter uses, so the same checks and messages apply.
Use "-" to read source from stdin; its mesh is written to <out>/model.stl.

With --watch the files are converted again whenever they change.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func runConvert(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("out")
	watch, _ := cmd.Flags().GetBool("watch")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	if watch {
		for _, a := range args {
			if a == stdinArg {
				return errors.New("--watch cannot be combined with stdin")
			}
		}
	}

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	sess, err := newSession(cfg, notify.NewConsole(os.Stdout))
	if err != nil {
		return err
	}
	defer sess.close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r := sess.ctrl.Initialize(ctx); !r.Ready() {
		return errors.New(r.Message)
	}

	failed := 0
	for _, arg := range args {
		if out := convertFile(ctx, sess.ctrl, arg, outDir, cmd.InOrStdin()); !out.OK() {
			failed++
		}
	}

	if watch {
		fmt.Printf("watching %d file(s), press Ctrl-C to stop\n", len(args))
		return watchFiles(ctx, args, debounce, func(path string) {
			convertFile(ctx, sess.ctrl, path, outDir, nil)
		})
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(args))
	}
	return nil
}

// convertFile converts one file (or stdin for "-") into outDir.
func convertFile(ctx context.Context, ctrl *controller.Controller, path, outDir string, stdin io.Reader) controller.Outcome {
	src, name, err := readSource(path, stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed  %s: %v\n", path, err)
		return controller.Outcome{Status: types.ConversionFailed, Message: err.Error()}
	}

	saver := &download.FileSaver{Dir: outDir, Name: name}
	out := ctrl.Convert(ctx, src, saver)
	if out.OK() {
		fmt.Printf("wrote   %s (%s, %d facets, %d bytes)\n", saver.Path, out.Format, out.Facets, out.Bytes)
	}
	return out
}

// readSource returns the source text and the output filename for path.
func readSource(path string, stdin io.Reader) (string, string, error) {
	if path == stdinArg {
		if stdin == nil {
			return "", "", errors.New("stdin is not available")
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), types.OutputFilename, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return string(data), outputName(path), nil
}

// outputName maps dir/part.scad to part.stl.
func outputName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".stl"
}

func init() {
	convertCmd.Flags().StringP("out", "o", ".", "output directory")
	convertCmd.Flags().BoolP("watch", "w", false, "convert again when a file changes")
	convertCmd.Flags().Duration("debounce", 300*time.Millisecond, "quiet period before a changed file is converted")

	rootCmd.AddCommand(convertCmd)
}
