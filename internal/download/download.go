// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package download hands finished meshes to the user: as an HTTP
// attachment for the web front end, or as a file for the CLI.
package download

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
)

// Saver receives a finished artifact. The data slice is not retained.
type Saver interface {
	Save(filename, mediaType string, data []byte) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(filename, mediaType string, data []byte) error

func (f SaverFunc) Save(filename, mediaType string, data []byte) error {
	return f(filename, mediaType, data)
}

// HTTPSaver writes the artifact as an attachment response.
type HTTPSaver struct {
	w     http.ResponseWriter
	saved bool
}

// NewHTTPSaver wraps w. Nothing is written until Save is called.
func NewHTTPSaver(w http.ResponseWriter) *HTTPSaver {
	return &HTTPSaver{w: w}
}

// Save writes headers and body. It may be called once.
func (s *HTTPSaver) Save(filename, mediaType string, data []byte) error {
	if s.saved {
		return fmt.Errorf("response already written")
	}
	s.saved = true

	h := s.w.Header()
	h.Set("Content-Type", mediaType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Cache-Control", "no-store")
	s.w.WriteHeader(http.StatusOK)
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	return nil
}

// Saved reports whether the response carries the artifact.
func (s *HTTPSaver) Saved() bool { return s.saved }

// FileSaver writes artifacts into a directory. Name, when set, replaces the
// artifact's filename.
type FileSaver struct {
	Dir  string
	Name string

	// Path is the last file written.
	Path string
}

// Save writes data atomically: to a temporary file that is renamed into place.
func (s *FileSaver) Save(filename, _ string, data []byte) error {
	if s.Name != "" {
		filename = s.Name
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	path := filepath.Join(s.Dir, filename)
	tmp, err := os.CreateTemp(s.Dir, "."+filename+".*")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	s.Path = path
	return nil
}
