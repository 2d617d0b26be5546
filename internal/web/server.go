// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package web serves the converter page and its JSON and event-stream API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pdiddy/scad2stl/internal/controller"
	"github.com/pdiddy/scad2stl/internal/download"
	"github.com/pdiddy/scad2stl/internal/history"
	"github.com/pdiddy/scad2stl/internal/notify"
	"github.com/pdiddy/scad2stl/pkg/types"
)

// MaxSourceBytes bounds the size of a submitted conversion form.
const MaxSourceBytes = 1 << 20

const keepAliveInterval = 30 * time.Second

// Controller is the part of the conversion controller the shell drives.
type Controller interface {
	View() controller.View
	SetSource(src string)
	Convert(ctx context.Context, source string, dst download.Saver) controller.Outcome
}

// Toasts is the notification surface the shell renders.
type Toasts interface {
	Active() []notify.Toast
	Subscribe(ctx context.Context) <-chan notify.Event
	Dismiss(id string)
}

// History lists recent conversion records.
type History interface {
	List(ctx context.Context, opts history.ListOptions) ([]types.ConversionRecord, error)
}

// Option configures the handler.
type Option func(*Server)

// WithHistory serves /api/history from h.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server holds the shell's dependencies.
type Server struct {
	ctrl    Controller
	toasts  Toasts
	history History
	metrics http.Handler
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler builds the router.
func NewHandler(ctrl Controller, toasts Toasts, opts ...Option) http.Handler {
	s := &Server{
		ctrl:   ctrl,
		toasts: toasts,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.Index)
	r.Post("/convert", s.Convert)
	r.Get("/health", s.Health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.Status)
		r.Get("/events", s.SubscribeEvents)
		r.Get("/toasts", s.ListToasts)
		r.Post("/toasts/{id}/dismiss", s.DismissToast)
		r.Get("/history", s.ListHistory)
	})

	return r
}

// Index renders the converter page.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderPage(w, pageData{View: s.ctrl.View(), Year: s.now().Year()}); err != nil {
		s.logger.Error("render page", "error", err)
	}
}

// Convert handles POST /convert. A successful conversion answers with the
// model.stl attachment; every other outcome answers with the Outcome as JSON.
func (s *Server) Convert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxSourceBytes)
	source, err := readSource(r)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("source exceeds the size limit"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	s.ctrl.SetSource(source)

	// A started render runs to completion even if the client goes away.
	saver := download.NewHTTPSaver(w)
	out := s.ctrl.Convert(context.WithoutCancel(r.Context()), source, saver)
	if saver.Saved() {
		if !out.OK() {
			s.logger.Warn("conversion response interrupted", "message", out.Message)
		}
		return
	}
	writeJSON(w, statusFor(out.Status), out)
}

// readSource takes the source from the "source" form field, or from the
// whole body when it is sent as plain text.
func readSource(r *http.Request) (string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		data, err := io.ReadAll(r.Body)
		return string(data), err
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return r.PostForm.Get("source"), nil
}

func statusFor(st types.ConversionStatus) int {
	switch st {
	case types.ConversionBusy:
		return http.StatusConflict
	case types.ConversionNotReady:
		return http.StatusServiceUnavailable
	case types.ConversionDone:
		return http.StatusOK
	}
	return http.StatusUnprocessableEntity
}

// Status returns the controller view.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

// Health answers liveness probes. It does not depend on engine readiness.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListToasts returns the active toasts.
func (s *Server) ListToasts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.toasts.Active())
}

// DismissToast removes a toast. Unknown ids succeed.
func (s *Server) DismissToast(w http.ResponseWriter, r *http.Request) {
	s.toasts.Dismiss(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// ListHistory returns recent conversion records, newest first.
func (s *Server) ListHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, errorBody("history is disabled"))
		return
	}

	var opts history.ListOptions
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
			return
		}
		opts.Limit = n
	}
	opts.Status = types.ConversionStatus(r.URL.Query().Get("status"))

	records, err := s.history.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("list history", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("history unavailable"))
		return
	}
	if records == nil {
		records = []types.ConversionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// SubscribeEvents streams toast events as server-sent events.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := s.toasts.Subscribe(r.Context())

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("encode event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: toast\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", s.now().Sub(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func errorBody(msg string) map[string]string {
	return map[string]string{"status": "error", "message": msg}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
