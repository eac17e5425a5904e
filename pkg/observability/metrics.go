package observability

import (
	"context"
	"net/http"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records engine activity as Prometheus metrics.
type Metrics struct {
	NodeVisits   *prometheus.CounterVec
	ToolCalls    *prometheus.CounterVec
	ToolErrors   *prometheus.CounterVec
	ToolDuration *prometheus.HistogramVec
	Runs         *prometheus.CounterVec
	RunSteps     prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		NodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canopy_node_visits_total",
			Help: "Total number of branch node visits",
		}, []string{"node_id"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canopy_tool_calls_total",
			Help: "Total number of tool executions",
		}, []string{"tool_name", "forced"}),
		ToolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canopy_tool_errors_total",
			Help: "Total number of failed tool executions",
		}, []string{"tool_name"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canopy_tool_duration_seconds",
			Help:    "Duration of tool executions",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool_name"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "canopy_runs_total",
			Help: "Total number of finished runs by final status",
		}, []string{"status"}),
		RunSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "canopy_run_steps",
			Help:    "Executed steps per finished run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
		}),
	}

	for _, c := range []prometheus.Collector{m.NodeVisits, m.ToolCalls, m.ToolErrors, m.ToolDuration, m.Runs, m.RunSteps} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks that feed the metrics.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, _, nodeID string) {
			m.NodeVisits.WithLabelValues(nodeID).Inc()
		},
		OnToolCall: func(_ context.Context, e *domain.StepEvent) {
			forced := "false"
			if e.Forced {
				forced = "true"
			}
			m.ToolCalls.WithLabelValues(e.ToolName, forced).Inc()
		},
		OnToolReturn: func(_ context.Context, e *domain.StepEvent) {
			m.ToolDuration.WithLabelValues(e.ToolName).Observe(e.Duration.Seconds())
			if e.IsError {
				m.ToolErrors.WithLabelValues(e.ToolName).Inc()
			}
		},
		OnRunEnd: func(_ context.Context, s *domain.RunState) {
			m.Runs.WithLabelValues(string(s.Status)).Inc()
			m.RunSteps.Observe(float64(s.Step))
		},
	}
}

// Handler serves the metrics gathered by g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
