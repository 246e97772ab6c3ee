// Package metrics exposes session lifecycle counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the session stores report to. Nop discards everything.
type Recorder interface {
	RecordLogin(variant string, success bool)
	RecordLogout(variant, reason string)
	RecordRefresh(success bool)
	RecordExpiryWarning()
	RecordIdleWarning()
	RecordRelayedActivity()
}

type Collector struct {
	logins         *prometheus.CounterVec
	logouts        *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	expiryWarnings prometheus.Counter
	idleWarnings   prometheus.Counter
	relayed        prometheus.Counter
}

var _ Recorder = (*Collector)(nil)

// NewCollector registers the session counters on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_session_logins_total",
			Help: "Login attempts by session variant and result",
		}, []string{"variant", "result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_session_logouts_total",
			Help: "Sessions ended, by variant and reason",
		}, []string{"variant", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dashboard_session_refreshes_total",
			Help: "Access token refreshes by result",
		}, []string{"result"}),
		expiryWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_session_expiry_warnings_total",
			Help: "Token expiry warnings shown",
		}),
		idleWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_session_idle_warnings_total",
			Help: "Idle countdown warnings shown",
		}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_session_relayed_activity_total",
			Help: "Activity broadcasts received from sibling sessions",
		}),
	}

	reg.MustRegister(
		c.logins,
		c.logouts,
		c.refreshes,
		c.expiryWarnings,
		c.idleWarnings,
		c.relayed,
	)
	return c
}

func (c *Collector) RecordLogin(variant string, success bool) {
	c.logins.WithLabelValues(variant, result(success)).Inc()
}

func (c *Collector) RecordLogout(variant, reason string) {
	c.logouts.WithLabelValues(variant, reason).Inc()
}

func (c *Collector) RecordRefresh(success bool) {
	c.refreshes.WithLabelValues(result(success)).Inc()
}

func (c *Collector) RecordExpiryWarning() {
	c.expiryWarnings.Inc()
}

func (c *Collector) RecordIdleWarning() {
	c.idleWarnings.Inc()
}

func (c *Collector) RecordRelayedActivity() {
	c.relayed.Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

type nop struct{}

// Nop returns a Recorder that records nothing.
func Nop() Recorder {
	return nop{}
}

func (nop) RecordLogin(string, bool)    {}
func (nop) RecordLogout(string, string) {}
func (nop) RecordRefresh(bool)          {}
func (nop) RecordExpiryWarning()        {}
func (nop) RecordIdleWarning()          {}
func (nop) RecordRelayedActivity()      {}

// Handler serves the gatherer's metrics for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
