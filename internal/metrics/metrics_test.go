package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SegmentFetched("selected", nil)
	m.Probed(time.Now(), errors.New("x"))
	m.LibraryWrite("save", nil)
	m.RolledBack()
	m.SearchSent()
	m.SearchDiscarded()
	m.Transitioned("playing")
	m.CacheSize(3)
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.SegmentFetched("selected", nil)
	m.SegmentFetched("selected", errors.New("boom"))
	m.LibraryWrite("save", nil)
	m.RolledBack()

	if got := testutil.ToFloat64(m.SegmentFetches.WithLabelValues("selected", "error")); got != 1 {
		t.Fatalf("expected 1 failed fetch, got %v", got)
	}
	if got := testutil.ToFloat64(m.LibraryRollbacks); got != 1 {
		t.Fatalf("expected 1 rollback, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "summarist_library_writes_total") {
		t.Fatalf("metrics output missing library writes")
	}
}
