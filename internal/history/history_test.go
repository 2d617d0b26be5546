// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package history

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/scad2stl/pkg/types"
)

// --- test helpers ---

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(types.HistoryConfig{Dir: t.TempDir(), MaxResults: 3}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRecord(i int, status types.ConversionStatus) types.ConversionRecord {
	rec := types.ConversionRecord{
		StartedAt:    t0.Add(time.Duration(i) * time.Minute),
		Duration:     time.Duration(i+1) * 150 * time.Millisecond,
		Backend:      "wasm",
		Status:       status,
		SourceDigest: "4f1c",
		SourceBytes:  36,
	}
	switch status {
	case types.ConversionDone:
		rec.OutputBytes = 684
		rec.Format = "binary"
		rec.Facets = 12
	case types.ConversionFailed:
		rec.Message = "Parser error in line 1"
	}
	return rec
}

func seed(t *testing.T, s *Store, statuses ...types.ConversionStatus) {
	t.Helper()
	for i, st := range statuses {
		_, err := s.Record(context.Background(), sampleRecord(i, st))
		require.NoError(t, err)
	}
}

// --- schema tests ---

func TestNewStoreCreatesDBFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store, err := NewStore(types.HistoryConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(filepath.Join(dir, dbFile))
	assert.NoError(t, err)
	assert.Equal(t, 20, store.maxResults)
}

func TestNewStoreRequiresDir(t *testing.T) {
	_, err := NewStore(types.HistoryConfig{}, nil)
	assert.ErrorContains(t, err, "history.dir")
}

func TestNewStoreReopens(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(types.HistoryConfig{Dir: dir}, nil)
	require.NoError(t, err)
	seed(t, store, types.ConversionDone)
	require.NoError(t, store.Close())

	store, err = NewStore(types.HistoryConfig{Dir: dir}, nil)
	require.NoError(t, err)
	defer store.Close()

	recs, err := store.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

// --- record and list tests ---

func TestRecordRoundTrip(t *testing.T) {
	store := testStore(t)
	want := sampleRecord(0, types.ConversionDone)

	id, err := store.Record(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	recs, err := store.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, id, got.ID)
	assert.True(t, want.StartedAt.Equal(got.StartedAt), "started_at %v != %v", got.StartedAt, want.StartedAt)
	assert.Equal(t, want.Duration, got.Duration)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Facets, got.Facets)
	assert.Equal(t, want.Format, got.Format)
	assert.Equal(t, want.OutputBytes, got.OutputBytes)
}

func TestObserveRecords(t *testing.T) {
	store := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store.Observe(ctx, sampleRecord(0, types.ConversionFailed))

	recs, err := store.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Parser error in line 1", recs[0].Message)
}

func TestList(t *testing.T) {
	all := []types.ConversionStatus{
		types.ConversionDone, types.ConversionFailed, types.ConversionDone,
		types.ConversionEmpty, types.ConversionDone,
	}

	tests := []struct {
		name    string
		opts    ListOptions
		wantIDs []int64
	}{
		{"default limit", ListOptions{}, []int64{5, 4, 3}},
		{"explicit limit", ListOptions{Limit: 10}, []int64{5, 4, 3, 2, 1}},
		{"status filter", ListOptions{Limit: 10, Status: types.ConversionDone}, []int64{5, 3, 1}},
		{"since", ListOptions{Limit: 10, Since: t0.Add(3 * time.Minute)}, []int64{5, 4}},
		{"since with fraction", ListOptions{Limit: 10, Since: t0.Add(3*time.Minute + 500*time.Millisecond)}, []int64{5}},
		{"no match", ListOptions{Status: types.ConversionRejected}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testStore(t)
			seed(t, store, all...)

			recs, err := store.List(context.Background(), tt.opts)
			require.NoError(t, err)

			var ids []int64
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestSummarize(t *testing.T) {
	store := testStore(t)
	seed(t, store, types.ConversionDone, types.ConversionFailed, types.ConversionDone, types.ConversionEmpty)

	sum, err := store.Summarize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{Converted: 2, Empty: 1, Failed: 1}, sum)
	assert.Equal(t, 4, sum.Total())
}

// --- export tests ---

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"json", FormatJSON, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestWriteExportJSON(t *testing.T) {
	store := testStore(t)
	seed(t, store, types.ConversionDone, types.ConversionFailed, types.ConversionDone, types.ConversionDone)

	var buf bytes.Buffer
	require.NoError(t, store.WriteExport(context.Background(), &buf, FormatJSON, ListOptions{}))

	var doc Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Records, 4, "export ignores the list default limit")
	assert.Equal(t, 3, doc.Summary.Converted)
	assert.Equal(t, int64(4), doc.Records[0].ID)
	assert.Equal(t, int64(600), doc.Records[0].DurationMS)
}

func TestWriteExportYAML(t *testing.T) {
	store := testStore(t)
	seed(t, store, types.ConversionFailed)

	var buf bytes.Buffer
	require.NoError(t, store.WriteExport(context.Background(), &buf, FormatYAML, ListOptions{}))
	assert.Contains(t, buf.String(), "status: failed")

	var doc Export
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Records, 1)
	assert.Equal(t, "Parser error in line 1", doc.Records[0].Message)
}

func TestWriteExportUnknownFormat(t *testing.T) {
	store := testStore(t)
	err := store.WriteExport(context.Background(), &bytes.Buffer{}, Format("xml"), ListOptions{})
	assert.Error(t, err)
}

func TestExportFile(t *testing.T) {
	store := testStore(t)
	seed(t, store, types.ConversionDone)

	path, err := store.ExportFile(context.Background(), "", ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.dir, "export.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "facets: 12")
}
