package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RequestsTotal   prometheus.Counter
	RecordsCreated  prometheus.Counter
	RecordsUpdated  prometheus.Counter
	RecordsDeleted  prometheus.Counter
	RepoErrorsTotal prometheus.Counter
	RateLimited     prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			RequestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatdock",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests handled",
			}),
			RecordsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatdock",
				Name:      "records_created_total",
				Help:      "Total records created across repositories",
			}),
			RecordsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatdock",
				Name:      "records_updated_total",
				Help:      "Total records updated across repositories",
			}),
			RecordsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatdock",
				Name:      "records_deleted_total",
				Help:      "Total records deleted across repositories",
			}),
			RepoErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatdock",
				Name:      "repository_errors_total",
				Help:      "Total unexpected repository failures",
			}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "chatdock",
				Name:      "rate_limited_total",
				Help:      "Total requests rejected by the rate limiter",
			}),
		}
		prometheus.MustRegister(
			global.RequestsTotal,
			global.RecordsCreated,
			global.RecordsUpdated,
			global.RecordsDeleted,
			global.RepoErrorsTotal,
			global.RateLimited,
		)
	})
	return global
}
