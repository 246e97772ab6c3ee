package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-dashboard-session/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordLogin("admin", true)
	c.RecordLogin("admin", false)
	c.RecordLogout("admin", "idle")
	c.RecordLogout("admin", "idle")
	c.RecordRefresh(true)
	c.RecordIdleWarning()
	c.RecordRelayedActivity()

	families, err := reg.Gather()
	require.NoError(t, err)

	series := map[string]int{}
	for _, mf := range families {
		series[mf.GetName()] = len(mf.GetMetric())
		if mf.GetName() == "dashboard_session_logouts_total" {
			require.Equal(t, 2.0, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	require.Equal(t, 2, series["dashboard_session_logins_total"])
	require.Equal(t, 1, series["dashboard_session_logouts_total"])
	require.Equal(t, 1, series["dashboard_session_idle_warnings_total"])
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	c.RecordRefresh(false)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), `dashboard_session_refreshes_total{result="failure"} 1`)
}

func TestNopRecorder(t *testing.T) {
	r := metrics.Nop()
	r.RecordLogin("user", true)
	r.RecordLogout("user", "user")
}
