package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProspectingMetrics exposes counters for the claim-and-dispatch flow.
type ProspectingMetrics struct {
	claimsTotal      *prometheus.CounterVec
	dispatchTotal    *prometheus.CounterVec
	unreachableTotal *prometheus.CounterVec
	releasesTotal    *prometheus.CounterVec
	reapedTotal      prometheus.Counter
}

func NewProspectingMetrics(reg prometheus.Registerer) *ProspectingMetrics {
	m := &ProspectingMetrics{
		claimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prospecting",
			Subsystem: "scheduler",
			Name:      "claims_total",
			Help:      "Total lead claim attempts",
		}, []string{"prospector", "result"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prospecting",
			Subsystem: "scheduler",
			Name:      "dispatch_total",
			Help:      "Total outbound dispatch attempts",
		}, []string{"prospector", "status"}),
		unreachableTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prospecting",
			Subsystem: "scheduler",
			Name:      "unreachable_total",
			Help:      "Leads confirmed without a WhatsApp account",
		}, []string{"prospector"}),
		releasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prospecting",
			Subsystem: "scheduler",
			Name:      "claim_releases_total",
			Help:      "Claims released without completion",
		}, []string{"prospector", "reason"}),
		reapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prospecting",
			Subsystem: "reaper",
			Name:      "stale_claims_reaped_total",
			Help:      "Stale claims force-released by the reaper",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.claimsTotal, m.dispatchTotal, m.unreachableTotal, m.releasesTotal, m.reapedTotal)
	return m
}

func (m *ProspectingMetrics) ObserveClaim(prospector, result string) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(prospector, result).Inc()
}

func (m *ProspectingMetrics) ObserveDispatch(prospector, status string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(prospector, status).Inc()
}

func (m *ProspectingMetrics) ObserveUnreachable(prospector string) {
	if m == nil {
		return
	}
	m.unreachableTotal.WithLabelValues(prospector).Inc()
}

func (m *ProspectingMetrics) ObserveRelease(prospector, reason string) {
	if m == nil {
		return
	}
	m.releasesTotal.WithLabelValues(prospector, reason).Inc()
}

func (m *ProspectingMetrics) ObserveReaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.reapedTotal.Add(float64(n))
}
