// Package metrics instruments the vault core with Prometheus
// collectors. Counters only count operations; no label ever carries
// item names, identities, or sizes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	UnlockAttempts prometheus.Counter
	UnlockFailures prometheus.Counter
	Imports        prometheus.Counter
	Deletes        prometheus.Counter
	Previews       prometheus.Counter
	Rotations      prometheus.Counter
	KDFSeconds     prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UnlockAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "securevault",
			Name:      "unlock_attempts_total",
			Help:      "Unlock attempts, successful or not.",
		}),
		UnlockFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "securevault",
			Name:      "unlock_failures_total",
			Help:      "Unlock attempts that matched no credential.",
		}),
		Imports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "securevault",
			Name:      "imports_total",
			Help:      "Items imported into the vault.",
		}),
		Deletes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "securevault",
			Name:      "deletes_total",
			Help:      "Items deleted from the vault.",
		}),
		Previews: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "securevault",
			Name:      "previews_total",
			Help:      "Preview buffers handed to the renderer.",
		}),
		Rotations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "securevault",
			Name:      "rotations_total",
			Help:      "Completed master-secret rotations.",
		}),
		KDFSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "securevault",
			Name:      "kdf_duration_seconds",
			Help:      "Wall time of one key derivation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
	}
}
