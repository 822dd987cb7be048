// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oru-io/conduct/pkg/models"
)

type Collector struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	executionsActive  prometheus.Gauge
	deferredTotal     prometheus.Counter
	chainSuppressed   prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduct_executions_total",
			Help: "Finalized execution attempts by terminal status and script type.",
		}, []string{"status", "script_type"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduct_execution_duration_seconds",
			Help:    "Wall-clock duration of execution attempts.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"script_type"}),
		executionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conduct_executions_active",
			Help: "Execution attempts currently running.",
		}),
		deferredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduct_dispatch_deferred_total",
			Help: "Due triggers deferred by the single-active-execution policy.",
		}),
		chainSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduct_chain_depth_suppressed_total",
			Help: "run_event actions suppressed by the chain depth guard.",
		}),
	}

	reg.MustRegister(
		c.executionsTotal,
		c.executionDuration,
		c.executionsActive,
		c.deferredTotal,
		c.chainSuppressed,
	)

	return c
}

// A nil Collector is valid and records nothing.

func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}

	c.executionsActive.Inc()
}

func (c *Collector) ExecutionFinished(status models.ExecutionStatus, scriptType models.ScriptType, seconds float64) {
	if c == nil {
		return
	}

	c.executionsActive.Dec()
	c.executionsTotal.WithLabelValues(string(status), string(scriptType)).Inc()
	c.executionDuration.WithLabelValues(string(scriptType)).Observe(seconds)
}

func (c *Collector) DispatchDeferred() {
	if c == nil {
		return
	}

	c.deferredTotal.Inc()
}

func (c *Collector) ChainDepthSuppressed() {
	if c == nil {
		return
	}

	c.chainSuppressed.Inc()
}
