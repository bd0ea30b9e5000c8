package expand

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts executor outcomes by strategy. A nil *Metrics records
// nothing.
type Metrics struct {
	attempts    *prometheus.CounterVec
	successes   *prometheus.CounterVec
	failures    *prometheus.CounterVec
	rateLimited prometheus.Counter
	quota       prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unclip",
			Name:      "expansion_attempts_total",
			Help:      "Expansion attempts performed, by strategy.",
		}, []string{"strategy"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unclip",
			Name:      "expansion_success_total",
			Help:      "Messages expanded, by strategy.",
		}, []string{"strategy"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "unclip",
			Name:      "expansion_failures_total",
			Help:      "Failed attempts, by strategy and whether a retry follows.",
		}, []string{"strategy", "terminal"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unclip",
			Name:      "expansion_rate_limited_total",
			Help:      "Attempts deferred by the rate limiter.",
		}),
		quota: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "unclip",
			Name:      "expansion_quota_skipped_total",
			Help:      "Messages skipped because the free daily allowance was used up.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.successes, m.failures, m.rateLimited, m.quota)
	}
	return m
}

func (m *Metrics) attempt(s Kind) {
	if m != nil {
		m.attempts.WithLabelValues(string(s)).Inc()
	}
}

func (m *Metrics) success(s Kind) {
	if m != nil {
		m.successes.WithLabelValues(string(s)).Inc()
	}
}

func (m *Metrics) failure(s Kind, terminal bool) {
	if m == nil {
		return
	}
	t := "false"
	if terminal {
		t = "true"
	}
	m.failures.WithLabelValues(string(s), t).Inc()
}

func (m *Metrics) limited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) skipped() {
	if m != nil {
		m.quota.Inc()
	}
}
