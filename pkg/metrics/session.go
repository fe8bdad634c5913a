package metrics

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeJoined  = "joined"
	OutcomeSkipped = "skipped"
)

// Session counts session lifecycle events. A nil *Session is valid and
// records nothing, which keeps tests and the CLI free of registries.
type Session struct {
	logins           *prometheus.CounterVec
	refreshes        *prometheus.CounterVec
	proactive        *prometheus.CounterVec
	forcedLogouts    prometheus.Counter
	expirations      prometheus.Counter
	secondsRemaining prometheus.Gauge
}

// NewSession registers the session collectors on reg.
func NewSession(reg prometheus.Registerer) *Session {
	s := &Session{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic_console",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic_console",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Token refresh calls by outcome; joined counts callers that waited on an in-flight refresh.",
		}, []string{"outcome"}),
		proactive: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic_console",
			Subsystem: "transport",
			Name:      "proactive_refreshes_total",
			Help:      "Refreshes triggered by outgoing requests close to token expiry.",
		}, []string{"outcome"}),
		forcedLogouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic_console",
			Subsystem: "session",
			Name:      "forced_logouts_total",
			Help:      "Forced logouts, including those caused by failed refreshes.",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic_console",
			Subsystem: "session",
			Name:      "expirations_total",
			Help:      "Session timer expirations.",
		}),
		secondsRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic_console",
			Subsystem: "session",
			Name:      "seconds_remaining",
			Help:      "Seconds until the current access token is assumed expired.",
		}),
	}
	reg.MustRegister(s.logins, s.refreshes, s.proactive, s.forcedLogouts, s.expirations, s.secondsRemaining)
	return s
}

func (s *Session) Login(outcome string) {
	if s == nil {
		return
	}
	s.logins.WithLabelValues(outcome).Inc()
}

func (s *Session) Refresh(outcome string) {
	if s == nil {
		return
	}
	s.refreshes.WithLabelValues(outcome).Inc()
}

func (s *Session) ProactiveRefresh(outcome string) {
	if s == nil {
		return
	}
	s.proactive.WithLabelValues(outcome).Inc()
}

func (s *Session) ForcedLogout() {
	if s == nil {
		return
	}
	s.forcedLogouts.Inc()
}

func (s *Session) Expired() {
	if s == nil {
		return
	}
	s.expirations.Inc()
}

func (s *Session) SecondsRemaining(seconds int) {
	if s == nil {
		return
	}
	s.secondsRemaining.Set(float64(seconds))
}
