// Package metrics registers Prometheus instrumentation for the session
// coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by refresh and poll metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds all counters for one client instance.
type Metrics struct {
	RefreshTotal    *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	HardLogoutTotal *prometheus.CounterVec
	PollTicksTotal  *prometheus.CounterVec
}

// New creates and registers all metrics on reg. A nil reg registers onto a
// private throwaway registry so library users who do not scrape still get a
// working client.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		RefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionintel_refresh_total",
			Help: "Token refresh network calls by outcome.",
		}, []string{"outcome"}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "sessionintel_request_retries_total",
			Help: "Requests replayed once after a successful refresh.",
		}),
		HardLogoutTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionintel_hard_logout_total",
			Help: "Forced local logouts by reason (security code or refresh_failed).",
		}, []string{"reason"}),
		PollTicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionintel_poll_ticks_total",
			Help: "Background session poll ticks by outcome (skipped ticks excluded).",
		}, []string{"outcome"}),
	}
}
