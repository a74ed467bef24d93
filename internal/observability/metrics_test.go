package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.ObserveStage("unpivot", 10*time.Millisecond, nil)
	m.ObserveStage("unpivot", time.Millisecond, errors.New("boom"))
	m.AddRows("long_form", 12)
	m.RecordCache("hit")
	m.RecordCache("miss")
	m.RecordCache("miss")
	m.RecordSourceRows(40)
	m.RecordReport(time.Unix(1700000000, 0))
	m.RecordHTTP("/api/ranking", "GET", 200, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageErrors.WithLabelValues("unpivot")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.RowsProduced.WithLabelValues("long_form")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.SourceRows))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsGenerated))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastSuccessfulRun))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/ranking", "GET", "200")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveStage("derive", time.Second, nil)
	m.AddRows("wide", 1)
	m.RecordCache("hit")
	m.RecordSourceRows(1)
	m.RecordReport(time.Now())
	m.RecordHTTP("/", "GET", 200, time.Second)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	require.NotPanics(t, func() {
		NewMetrics("test", nil)
		NewMetrics("test", nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.RecordCache("hit")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `test_cache_lookups_total{result="hit"} 1`))
}
