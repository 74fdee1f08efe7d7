package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Reconcile("submitted")
	m.Reconcile("submitted")
	m.Reconcile("failed")
	m.FeedFetch(SourceCache)
	m.RealtimeMerge(true)
	m.RealtimeMerge(false)
	m.SetOffline(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.reconciles.WithLabelValues("submitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedFetches.WithLabelValues(SourceCache)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.realtimeMerges))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ownerLookupFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.offline))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Reconcile("x")
	m.FeedFetch(SourceRemote)
	m.RealtimeMerge(false)
	m.SetOffline(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Reconcile("submitted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `bartermate_reconcile_total{outcome="submitted"} 1`))
}

func TestMetrics_DroppedNotifications(t *testing.T) {
	m := New()
	var n int64 = 3
	m.WatchDroppedNotifications(func() int64 { return n })
	m.WatchDroppedNotifications(func() int64 { return 0 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "bartermate_notifications_dropped_total 3")

	n = 7
	rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "bartermate_notifications_dropped_total 7")

	var nilMetrics *Metrics
	nilMetrics.WatchDroppedNotifications(func() int64 { return 1 })
}
