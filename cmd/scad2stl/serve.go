// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/scad2stl/internal/metrics"
	"github.com/pdiddy/scad2stl/internal/notify"
	"github.com/pdiddy/scad2stl/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web converter",
	Long: `Serve starts the web converter. The page accepts OpenSCAD source and
answers with a model.stl download. The engine initializes in the
background; the convert button stays disabled until it is ready, and an
initialization failure is shown on the page until the process restarts.

Prometheus metrics are served at /metrics. Conversion history is served at
/api/history when history.enabled is set.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	hub := notify.NewHub(notify.DefaultTTL)
	m := metrics.New()

	sess, err := newSession(cfg, hub, m)
	if err != nil {
		return err
	}

	opts := []web.Option{web.WithMetrics(m.Handler()), web.WithLogger(logger)}
	if sess.history != nil {
		opts = append(opts, web.WithHistory(sess.history))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		r := sess.ctrl.Initialize(ctx)
		logger.Info("engine initialization finished", "backend", sess.engine.Name(), "state", r.State)
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.NewHandler(sess.ctrl, hub, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(hub.Close)

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "backend", sess.engine.Name())
		serverErrors <- srv.ListenAndServe()
	}()

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	select {
	case err := <-serverErrors:
		sess.close(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("shutting down")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", timeout, "error", err)
			if err := srv.Close(); err != nil {
				logger.Error("closing server", "error", err)
			}
		}
		sess.close(shutdownCtx)
		logger.Info("server stopped")
		return nil
	}
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	rootCmd.AddCommand(serveCmd)
}
