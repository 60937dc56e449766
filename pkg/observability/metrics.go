package observability

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/ports"
)

const namespace = "harness"

// Metrics holds the collectors fed by run channels.
type Metrics struct {
	RunsStarted   *prometheus.CounterVec
	RunsCompleted *prometheus.CounterVec
	RunsInFlight  prometheus.Gauge
	RunDuration   *prometheus.HistogramVec
	Tasks         *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
	AgentMessages *prometheus.CounterVec
	Prompts       *prometheus.CounterVec
	Diagnostics   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs started.",
		}, []string{"flow"}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of runs completed, by final status.",
		}, []string{"flow", "status"}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Number of runs currently executing.",
		}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow"}),
		Tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of node outcomes, by outcome (complete, failed, skipped).",
		}, []string{"flow", "node_id", "outcome"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of node executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"flow", "node_id"}),
		AgentMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_messages_total",
			Help:      "Total number of mailbox turns consumed by agents.",
		}, []string{"flow"}),
		Prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_total",
			Help:      "Total number of human-in-the-loop prompts.",
		}, []string{"flow"}),
		Diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Total number of diagnostic events, by level.",
		}, []string{"level"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RunsStarted, m.RunsCompleted, m.RunsInFlight, m.RunDuration,
			m.Tasks, m.TaskDuration, m.AgentMessages, m.Prompts, m.Diagnostics,
		)
	}
	return m
}

// Channel returns a channel that records the events of one run.
func (m *Metrics) Channel() ports.Channel {
	var (
		mu   sync.Mutex
		flow string
	)
	flowName := func() string {
		mu.Lock()
		defer mu.Unlock()
		return flow
	}

	return ports.Channel{
		Name: "metrics",
		OnComplete: func(_ context.Context, result *domain.RunResult) {
			m.RunDuration.WithLabelValues(flowName()).Observe(result.Duration.Seconds())
		},
		On: map[string]func(domain.Event){
			string(domain.EventRunStart): func(ev domain.Event) {
				p := ev.Payload.(*domain.RunStart)
				mu.Lock()
				flow = p.Flow
				mu.Unlock()
				m.RunsStarted.WithLabelValues(p.Flow).Inc()
				m.RunsInFlight.Inc()
			},
			string(domain.EventRunComplete): func(ev domain.Event) {
				p := ev.Payload.(*domain.RunComplete)
				m.RunsCompleted.WithLabelValues(flowName(), string(p.Status)).Inc()
				m.RunsInFlight.Dec()
			},
			"task:*": func(ev domain.Event) {
				switch p := ev.Payload.(type) {
				case *domain.TaskComplete:
					m.Tasks.WithLabelValues(flowName(), p.NodeID, "complete").Inc()
					m.TaskDuration.WithLabelValues(flowName(), p.NodeID).Observe(float64(p.DurationMs) / 1000)
				case *domain.TaskFailed:
					m.Tasks.WithLabelValues(flowName(), p.NodeID, "failed").Inc()
					m.TaskDuration.WithLabelValues(flowName(), p.NodeID).Observe(float64(p.DurationMs) / 1000)
				case *domain.TaskSkipped:
					m.Tasks.WithLabelValues(flowName(), p.NodeID, "skipped").Inc()
				}
			},
			string(domain.EventAgentMessage): func(domain.Event) {
				m.AgentMessages.WithLabelValues(flowName()).Inc()
			},
			string(domain.EventSessionPrompt): func(domain.Event) {
				m.Prompts.WithLabelValues(flowName()).Inc()
			},
			string(domain.EventDiagnostic): func(ev domain.Event) {
				m.Diagnostics.WithLabelValues(ev.Payload.(*domain.Diagnostic).Level).Inc()
			},
		},
	}
}
