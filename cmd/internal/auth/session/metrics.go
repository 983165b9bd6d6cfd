package session

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rotation outcomes recorded by Metrics.
const (
	outcomeRotated  = "rotated"
	outcomeNotFound = "not_found"
	outcomeExpired  = "expired"
	outcomeReuse    = "reuse"
	outcomeInvalid  = "invalid_format"
	outcomeError    = "error"
)

// Metrics holds the session subsystem's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	rotations     *prometheus.CounterVec
	reuse         prometheus.Counter
	revoked       prometheus.Counter
	sweepDeleted  *prometheus.CounterVec
	sweepFailures prometheus.Counter
	sweepDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fms_session_rotations_total",
			Help: "Refresh rotations by outcome.",
		}, []string{"outcome"}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fms_session_reuse_detected_total",
			Help: "Rotations that triggered a cascade revocation.",
		}),
		revoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fms_session_revoked_total",
			Help: "Sessions deleted by cascade revocation or logout.",
		}),
		sweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fms_session_sweep_deleted_total",
			Help: "Rows deleted by the expiry sweeper.",
		}, []string{"table"}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fms_session_sweep_failures_total",
			Help: "Sweeper ticks that failed.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fms_session_sweep_duration_seconds",
			Help:    "Duration of sweeper ticks.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.rotations, m.reuse, m.revoked, m.sweepDeleted, m.sweepFailures, m.sweepDuration)
	}
	return m
}

func (m *Metrics) rotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) reuseDetected(revoked int64) {
	if m == nil {
		return
	}
	m.reuse.Inc()
	m.revoked.Add(float64(revoked))
}

func (m *Metrics) revokedSessions(n int64) {
	if m == nil {
		return
	}
	m.revoked.Add(float64(n))
}

func (m *Metrics) sweep(res SweepResult, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
	if err != nil {
		m.sweepFailures.Inc()
		return
	}
	m.sweepDeleted.WithLabelValues("sessions").Add(float64(res.Sessions))
	m.sweepDeleted.WithLabelValues("retired").Add(float64(res.Retired))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeRotated
	case errors.Is(err, ErrRefreshReuseDetected):
		return outcomeReuse
	case errors.Is(err, ErrInvalidCredentialFormat):
		return outcomeInvalid
	case errors.Is(err, ErrSessionExpired):
		return outcomeExpired
	case errors.Is(err, ErrSessionNotFound):
		return outcomeNotFound
	default:
		return outcomeError
	}
}
