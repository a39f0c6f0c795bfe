// AngelaMos | 2026
// metrics.go

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	flowSignUp = "signup"
	flowSignIn = "signin"
	flowRotate = "refresh"
)

// Revocation reasons, used as the metrics label and in logs.
const (
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonSameDevice     = "same_device"
	ReasonExplicit       = "explicit"
	ReasonAdmin          = "admin"
	ReasonDeactivated    = "deactivated"
	ReasonDeleted        = "deleted"
	ReasonPasswordChange = "password_change"
)

type Metrics struct {
	issued      *prometheus.CounterVec
	rotations   prometheus.Counter
	revocations *prometheus.CounterVec
	suspicious  prometheus.Counter
	purged      prometheus.Counter
}

// NewMetrics registers the session collectors on reg. A nil reg gets a
// private registry, which keeps tests independent of global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		issued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goldsave",
			Name:      "sessions_issued_total",
			Help:      "Sessions created, by flow.",
		}, []string{"flow"}),
		rotations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goldsave",
			Name:      "session_rotations_total",
			Help:      "Successful refresh-secret rotations.",
		}),
		revocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goldsave",
			Name:      "session_revocations_total",
			Help:      "Sessions revoked, by reason.",
		}, []string{"reason"}),
		suspicious: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goldsave",
			Name:      "suspicious_signins_total",
			Help:      "Sign-ins flagged by the anomaly heuristics.",
		}),
		purged: f.NewCounter(prometheus.CounterOpts{
			Namespace: "goldsave",
			Name:      "sessions_purged_total",
			Help:      "Expired sessions physically deleted.",
		}),
	}
}

func (m *Metrics) sessionIssued(flow string) {
	m.issued.WithLabelValues(flow).Inc()
}

func (m *Metrics) sessionsRevoked(reason string, n int64) {
	if n > 0 {
		m.revocations.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) suspiciousSignIn() {
	m.suspicious.Inc()
}

func (m *Metrics) sessionRotated() {
	m.rotations.Inc()
}

func (m *Metrics) sessionsPurged(n int64) {
	if n > 0 {
		m.purged.Add(float64(n))
	}
}
