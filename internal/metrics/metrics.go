// ABOUTME: Prometheus collectors for JSON-RPC requests, tool executions, and agent loop runs.
// ABOUTME: Metrics satisfies the recorder interfaces of the mcp, tools, and agent packages.

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "market_gateway"

// Metrics owns a private registry so tests and multiple gateways never collide.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	loopRuns        *prometheus.CounterVec
	loopSteps       prometheus.Histogram
	loopDuration    prometheus.Histogram
}

// New creates and registers every collector. Process and Go runtime collectors are
// included when withRuntime is true.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "JSON-RPC requests answered, by binding, method, and error code (0 on success).",
		}, []string{"binding", "method", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Time from decode to terminal envelope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"binding", "method"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		loopRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_loop_runs_total",
			Help:      "Agent loop runs by outcome.",
		}, []string{"outcome"}),
		loopSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_loop_steps",
			Help:      "Model round trips per agent loop run.",
			Buckets:   []float64{1, 2, 3, 5, 8, 12, 15, 20},
		}),
		loopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_loop_duration_seconds",
			Help:      "Wall time per agent loop run.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}

	m.registry.MustRegister(m.Collectors()...)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Collectors returns the gateway's own collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests, m.requestDuration,
		m.toolCalls, m.toolDuration,
		m.loopRuns, m.loopSteps, m.loopDuration,
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest implements mcp.Recorder.
func (m *Metrics) ObserveRequest(binding, method string, code int, elapsed time.Duration) {
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(binding, method, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(binding, method).Observe(elapsed.Seconds())
}

// ObserveToolCall implements tools.Recorder.
func (m *Metrics) ObserveToolCall(tool string, isError bool, elapsed time.Duration) {
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveLoop implements agent.Recorder.
func (m *Metrics) ObserveLoop(steps int, outcome string, elapsed time.Duration) {
	m.loopRuns.WithLabelValues(outcome).Inc()
	m.loopSteps.Observe(float64(steps))
	m.loopDuration.Observe(elapsed.Seconds())
}
