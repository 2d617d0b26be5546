// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history persists one record per conversion attempt in SQLite
// and exports the log as YAML or JSON.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/scad2stl/pkg/types"
)

const (
	dbFile = "history.db"

	// timeLayout is fixed width so started_at sorts and compares as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Store manages the conversion history database.
type Store struct {
	db         *sql.DB
	dir        string
	maxResults int
	logger     *slog.Logger
}

// Summary counts stored records by status.
type Summary struct {
	Converted int `json:"converted" yaml:"converted"`
	Empty     int `json:"empty" yaml:"empty"`
	Failed    int `json:"failed" yaml:"failed"`
}

// Total is the number of records counted.
func (s Summary) Total() int { return s.Converted + s.Empty + s.Failed }

// ListOptions filters List and the exports.
type ListOptions struct {
	// Limit caps the number of records. Zero uses the configured default.
	Limit int

	// Status keeps only records with this status when set.
	Status types.ConversionStatus

	// Since keeps only records started at or after this time when set.
	Since time.Time
}

// NewStore opens or creates the history database at cfg.Dir/history.db.
func NewStore(cfg types.HistoryConfig, logger *slog.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("history directory not set: set history.dir")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 20
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{
		db:         db,
		dir:        cfg.Dir,
		maxResults: maxResults,
		logger:     logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at TEXT NOT NULL,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			backend TEXT,
			status TEXT NOT NULL,
			message TEXT,
			source_digest TEXT,
			source_bytes INTEGER,
			output_bytes INTEGER,
			format TEXT,
			facets INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_conversions_started_at ON conversions(started_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record inserts rec and returns its row id.
func (s *Store) Record(ctx context.Context, rec types.ConversionRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions
			(started_at, duration_ns, backend, status, message, source_digest,
			 source_bytes, output_bytes, format, facets)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.StartedAt.UTC().Format(timeLayout), int64(rec.Duration),
		rec.Backend, string(rec.Status), rec.Message, rec.SourceDigest,
		rec.SourceBytes, rec.OutputBytes, rec.Format, rec.Facets,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting conversion: %w", err)
	}
	return res.LastInsertId()
}

// Observe records rec, logging instead of returning errors so a broken
// history database never fails a conversion.
func (s *Store) Observe(ctx context.Context, rec types.ConversionRecord) {
	// The attempt already finished; a cancelled request must not drop it.
	ctx = context.WithoutCancel(ctx)
	if _, err := s.Record(ctx, rec); err != nil {
		s.logger.Warn("history record failed", "error", err)
	}
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]types.ConversionRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.maxResults
	}

	var qb strings.Builder
	var args []any
	qb.WriteString(`SELECT id, started_at, duration_ns, backend, status, message,
			source_digest, source_bytes, output_bytes, format, facets
		FROM conversions WHERE 1=1`)

	if opts.Status != "" {
		qb.WriteString(` AND status = ?`)
		args = append(args, string(opts.Status))
	}
	if !opts.Since.IsZero() {
		qb.WriteString(` AND started_at >= ?`)
		args = append(args, opts.Since.UTC().Format(timeLayout))
	}

	qb.WriteString(` ORDER BY id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var records []types.ConversionRecord
	for rows.Next() {
		var (
			rec       types.ConversionRecord
			startedAt string
			duration  int64
			status    string
			backend   sql.NullString
			message   sql.NullString
			digest    sql.NullString
			format    sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &startedAt, &duration, &backend, &status, &message,
			&digest, &rec.SourceBytes, &rec.OutputBytes, &format, &rec.Facets,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		rec.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at of record %d: %w", rec.ID, err)
		}
		rec.Duration = time.Duration(duration)
		rec.Status = types.ConversionStatus(status)
		rec.Backend = backend.String
		rec.Message = message.String
		rec.SourceDigest = digest.String
		rec.Format = format.String

		records = append(records, rec)
	}

	return records, rows.Err()
}

// Summarize counts all stored records by status.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, count(*) FROM conversions GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing history: %w", err)
	}
	defer rows.Close()

	var sum Summary
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Summary{}, fmt.Errorf("scanning row: %w", err)
		}
		switch types.ConversionStatus(status) {
		case types.ConversionDone:
			sum.Converted = n
		case types.ConversionEmpty:
			sum.Empty = n
		case types.ConversionFailed:
			sum.Failed = n
		}
	}
	return sum, rows.Err()
}
