// Package observability exposes Prometheus metrics for backend calls.
package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelgate/internal/core"
	"modelgate/internal/llmclient"
	"modelgate/internal/providers"
)

const namespace = "modelgate"

// Metrics holds the gateway collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec

	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	tokens       *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors.
func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_http_requests_total",
			Help:      "HTTP attempts sent to backends, retries included.",
		}, []string{"provider", "endpoint", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_http_request_duration_seconds",
			Help:      "Duration of one HTTP attempt to a backend.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"provider", "endpoint"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_http_requests_in_flight",
			Help:      "HTTP attempts currently waiting on a backend.",
		}, []string{"provider"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "CreateMessage calls by outcome. outcome is ok or the error type.",
		}, []string{"provider", "model", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "End-to-end duration of CreateMessage calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"provider", "model"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens reported by backends.",
		}, []string{"provider", "model", "kind"}),
	}
	r.MustRegister(
		m.httpRequests, m.httpDuration, m.inFlight,
		m.calls, m.callDuration, m.tokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Hooks returns llmclient hooks recording every HTTP attempt.
func (m *Metrics) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestStart: func(_ context.Context, info llmclient.RequestInfo) {
			m.inFlight.WithLabelValues(info.Provider).Inc()
		},
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			m.inFlight.WithLabelValues(info.Provider).Dec()
			status := "error"
			if info.StatusCode > 0 {
				status = strconv.Itoa(info.StatusCode)
			}
			m.httpRequests.WithLabelValues(info.Provider, info.Endpoint, status).Inc()
			m.httpDuration.WithLabelValues(info.Provider, info.Endpoint).Observe(info.Duration.Seconds())
		},
	}
}

// Observe is a providers.CallObserver recording outcome, latency and token
// usage of each CreateMessage call.
func (m *Metrics) Observe(_ context.Context, info providers.CallInfo) {
	m.calls.WithLabelValues(info.Provider, info.Model, outcome(info.Err)).Inc()
	m.callDuration.WithLabelValues(info.Provider, info.Model).Observe(info.Duration.Seconds())
	if info.Response == nil {
		return
	}
	u := info.Response.Usage
	for kind, n := range map[string]int{
		"input":       u.InputTokens,
		"output":      u.OutputTokens,
		"cache_write": u.CacheCreationInputTokens,
		"cache_read":  u.CacheReadInputTokens,
	} {
		if n > 0 {
			m.tokens.WithLabelValues(info.Provider, info.Model, kind).Add(float64(n))
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return string(gwErr.Type)
	}
	return "error"
}
