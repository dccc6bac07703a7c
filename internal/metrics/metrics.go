// Package metrics exposes Prometheus counters for the auth plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the service counters.
type Metrics struct {
	Logins          *prometheus.CounterVec
	TokenGrants     *prometheus.CounterVec
	RefreshReuse    prometheus.Counter
	SessionsRevoked *prometheus.CounterVec
}

// New registers the counters against the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		TokenGrants: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "token_grants_total",
			Help:      "Token endpoint grants by type and outcome.",
		}, []string{"grant_type", "outcome"}),
		RefreshReuse: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "refresh_reuse_total",
			Help:      "Refresh tokens presented after rotation.",
		}),
		SessionsRevoked: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auth",
			Name:      "sessions_revoked_total",
			Help:      "Sessions revoked by reason.",
		}, []string{"reason"}),
	}
}
