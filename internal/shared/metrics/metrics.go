package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	ForwardAttempts    *prometheus.CounterVec
	CatalogFetches     *prometheus.CounterVec
	AuditWriteFailures prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "requests_total",
				Help:      "Total inbound requests by endpoint and outcome",
			}, []string{"endpoint", "outcome"}),
			ForwardAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "forward_attempts_total",
				Help:      "Total forward attempts by backend and outcome",
			}, []string{"backend", "outcome"}),
			CatalogFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "catalog_fetches_total",
				Help:      "Total model catalog fetches by backend and outcome",
			}, []string{"backend", "outcome"}),
			AuditWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "modelgate",
				Name:      "audit_write_failures_total",
				Help:      "Total audit records that could not be persisted",
			}),
		}
		prometheus.MustRegister(global.RequestsTotal, global.ForwardAttempts, global.CatalogFetches, global.AuditWriteFailures)
	})
	return global
}
