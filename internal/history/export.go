// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/scad2stl/pkg/types"
)

// Format names an export encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat validates a user-supplied export format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatYAML, FormatJSON:
		return Format(s), nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q: use yaml or json", s)
}

// ExportEntry is the exported form of a record. Durations are written in
// milliseconds so both encodings stay readable.
type ExportEntry struct {
	ID           int64     `json:"id" yaml:"id"`
	StartedAt    time.Time `json:"started_at" yaml:"started_at"`
	DurationMS   int64     `json:"duration_ms" yaml:"duration_ms"`
	Backend      string    `json:"backend" yaml:"backend"`
	Status       string    `json:"status" yaml:"status"`
	Message      string    `json:"message,omitempty" yaml:"message,omitempty"`
	SourceDigest string    `json:"source_digest" yaml:"source_digest"`
	SourceBytes  int       `json:"source_bytes" yaml:"source_bytes"`
	OutputBytes  int       `json:"output_bytes" yaml:"output_bytes"`
	Format       string    `json:"format,omitempty" yaml:"format,omitempty"`
	Facets       int       `json:"facets" yaml:"facets"`
}

// Export is the document written by WriteExport.
type Export struct {
	Summary Summary       `json:"summary" yaml:"summary"`
	Records []ExportEntry `json:"records" yaml:"records"`
}

const exportLimit = 100000

// WriteExport encodes the history to w. It supports the same filters as
// List except that the limit defaults to every record.
func (s *Store) WriteExport(ctx context.Context, w io.Writer, format Format, opts ListOptions) error {
	doc, err := s.export(ctx, opts)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(doc, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case FormatYAML, "":
		data, err = yaml.Marshal(doc)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", format, err)
	}

	_, err = w.Write(data)
	return err
}

// ExportFile writes the history to dir/export.<format> and returns the path.
func (s *Store) ExportFile(ctx context.Context, format Format, opts ListOptions) (string, error) {
	if format == "" {
		format = FormatYAML
	}
	path := filepath.Join(s.dir, "export."+string(format))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if err := s.WriteExport(ctx, f, format, opts); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func (s *Store) export(ctx context.Context, opts ListOptions) (Export, error) {
	if opts.Limit <= 0 {
		opts.Limit = exportLimit
	}
	records, err := s.List(ctx, opts)
	if err != nil {
		return Export{}, fmt.Errorf("querying for export: %w", err)
	}
	sum, err := s.Summarize(ctx)
	if err != nil {
		return Export{}, err
	}

	doc := Export{Summary: sum, Records: make([]ExportEntry, len(records))}
	for i, r := range records {
		doc.Records[i] = entry(r)
	}
	return doc, nil
}

func entry(r types.ConversionRecord) ExportEntry {
	return ExportEntry{
		ID:           r.ID,
		StartedAt:    r.StartedAt,
		DurationMS:   r.Duration.Milliseconds(),
		Backend:      r.Backend,
		Status:       string(r.Status),
		Message:      r.Message,
		SourceDigest: r.SourceDigest,
		SourceBytes:  r.SourceBytes,
		OutputBytes:  r.OutputBytes,
		Format:       r.Format,
		Facets:       r.Facets,
	}
}
