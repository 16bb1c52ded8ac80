package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the runtime.
type Metrics struct {
	registry       *prometheus.Registry
	Runs           *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec
	RunIterations  *prometheus.HistogramVec
	RunTokens      *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	Compactions    *prometheus.CounterVec
	ModelRetries   prometheus.Counter
	Escalations    prometheus.Counter
}

// NewMetrics constructs a metrics registry with runtime collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsmith_runs_total",
		Help: "Completed runs by terminal outcome",
	}, []string{"outcome"})

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loopsmith_run_duration_seconds",
		Help:    "Run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"outcome"})

	iterations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "loopsmith_run_iterations",
		Help:    "Think/act iterations per run",
		Buckets: prometheus.LinearBuckets(1, 3, 11),
	}, []string{"outcome"})

	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsmith_run_tokens_total",
		Help: "Tokens reported by the model backend",
	}, []string{"kind"})

	tools := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsmith_tool_executions_total",
		Help: "Tool executions by tool and status",
	}, []string{"tool", "status"})

	compactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loopsmith_compactions_total",
		Help: "Compaction passes by tier applied",
	}, []string{"tier"})

	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopsmith_model_retries_total",
		Help: "Model backend calls retried after a transient failure",
	})

	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loopsmith_escalations_total",
		Help: "Runs blocked by the failure escalation tracker",
	})

	reg.MustRegister(runs, durations, iterations, tokens, tools, compactions, retries, escalations)

	return &Metrics{
		registry:       reg,
		Runs:           runs,
		RunDuration:    durations,
		RunIterations:  iterations,
		RunTokens:      tokens,
		ToolExecutions: tools,
		Compactions:    compactions,
		ModelRetries:   retries,
		Escalations:    escalations,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records a terminal outcome with its duration and iteration count.
func (m *Metrics) RecordRun(outcome string, duration time.Duration, iterations int) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.RunIterations.WithLabelValues(outcome).Observe(float64(iterations))
}

// RecordTokens adds backend-reported token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.RunTokens.WithLabelValues("prompt").Add(float64(prompt))
	m.RunTokens.WithLabelValues("completion").Add(float64(completion))
}

// RecordTool counts one tool execution.
func (m *Metrics) RecordTool(tool string, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
}

// RecordCompaction counts one applied compaction tier.
func (m *Metrics) RecordCompaction(tier string) {
	if m == nil {
		return
	}
	m.Compactions.WithLabelValues(tier).Inc()
}

// RecordModelRetry counts one retried backend call.
func (m *Metrics) RecordModelRetry() {
	if m == nil {
		return
	}
	m.ModelRetries.Inc()
}

// RecordEscalation counts one blocked run.
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}
