// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/scad2stl/pkg/types"
)

func TestObserveCountsConversions(t *testing.T) {
	m := New()
	ctx := context.Background()

	m.Observe(ctx, types.ConversionRecord{Backend: "wasm", Status: types.ConversionDone, Duration: time.Second, OutputBytes: 684, Facets: 12})
	m.Observe(ctx, types.ConversionRecord{Backend: "wasm", Status: types.ConversionDone, Duration: time.Second})
	m.Observe(ctx, types.ConversionRecord{Backend: "cli", Status: types.ConversionFailed})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.conversions.WithLabelValues("wasm", "converted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conversions.WithLabelValues("cli", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestObserveRejection(t *testing.T) {
	m := New()
	m.ObserveRejection(types.ConversionBusy)
	m.ObserveRejection(types.ConversionBusy)
	m.ObserveRejection(types.ConversionNotReady)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.rejections.WithLabelValues("busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("not_ready")))
}

func TestObserveReadiness(t *testing.T) {
	m := New()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readiness.WithLabelValues("initializing")))

	m.ObserveReadiness(types.Readiness{State: types.EngineFailed, Message: "boom"})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.readiness.WithLabelValues("initializing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.readiness.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readiness.WithLabelValues("failed")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRejection(types.ConversionRejected)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `scad2stl_rejections_total{reason="rejected"} 1`), text)
	assert.Contains(t, text, "scad2stl_engine_readiness")
	assert.Contains(t, text, "go_goroutines")
}
