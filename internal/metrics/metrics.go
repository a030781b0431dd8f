// Package metrics holds the Prometheus collectors the API updates.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a private registry with the service's collectors.
type Metrics struct {
	registry *prometheus.Registry

	Requests       *prometheus.CounterVec // by route, method, status
	Logins         *prometheus.CounterVec // by result
	Submissions    *prometheus.CounterVec // by result
	UploadBytes    prometheus.Counter
	UploadFailures prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "execution_submissions_total",
			Help:      "Execution submissions by result.",
		}, []string{"result"}),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "upload_bytes_total",
			Help:      "Bytes of execution files accepted.",
		}),
		UploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskflow",
			Name:      "upload_failures_total",
			Help:      "Execution file uploads the object store rejected or timed out.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests, m.Logins, m.Submissions, m.UploadBytes, m.UploadFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
