package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector()
	c.ObserveGeneration(time.Second, nil, "")
	c.ObserveGeneration(time.Second, errors.New("boom"), "generator")
	c.Warnings("graph", 2)
	c.Warnings("graph", 0)
	c.CacheLookup(true)
	c.CacheLookup(false)
	c.CacheLookup(false)

	if got := testutil.ToFloat64(c.ChunksMerged); got != 1 {
		t.Fatalf("chunks merged = %v", got)
	}
	if got := testutil.ToFloat64(c.GenerationFailures.WithLabelValues("generator")); got != 1 {
		t.Fatalf("generation failures = %v", got)
	}
	if got := testutil.ToFloat64(c.ReconcileWarnings.WithLabelValues("graph")); got != 2 {
		t.Fatalf("warnings = %v", got)
	}
	if got := testutil.ToFloat64(c.SnapshotCacheMisses); got != 2 {
		t.Fatalf("cache misses = %v", got)
	}
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.ObserveGeneration(time.Second, nil, "")
	c.Warnings("graph", 3)
	c.Tick()
	c.StorageError("save")
	c.HTTPRequest("GET", "/v0/health", 200, time.Millisecond)
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector()
	c.Tick()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "parc_playback_ticks_total 1") {
		t.Fatalf("metrics body missing tick counter:\n%s", rec.Body.String())
	}
}
