package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveQuery(t *testing.T) {
	c := NewCollector(4, 3)

	c.ObserveQuery(time.Millisecond, false, 2)
	c.ObserveQuery(time.Millisecond, true, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Queries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Unreachable))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.QueryWorkers))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.MaxTransfers))

	c.CancelledTrips.WithLabelValues("gtfsrt").Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(c.CancelledTrips.WithLabelValues("gtfsrt")))
}

func TestHandler(t *testing.T) {
	c := NewCollector(1, 0)
	h := c.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	c.Queries.Inc()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "planner_queries_total 1")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
