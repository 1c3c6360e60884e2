package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/parley/pkg/domain"
)

// Metrics holds the engine collectors.
type Metrics struct {
	flowsSelected  *prometheus.CounterVec
	nodeVisits     *prometheus.CounterVec
	actions        *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	timeouts       *prometheus.CounterVec
	sessionsEnded  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		flowsSelected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_flows_selected_total",
			Help: "Flows started, by flow and whether a trigger matched.",
		}, []string{"flow_id", "source"}),
		nodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_node_visits_total",
			Help: "Number of times each node was entered.",
		}, []string{"flow_id", "node_type"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_actions_total",
			Help: "Node actions executed, by type and result.",
		}, []string{"action", "result"}),
		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_action_duration_seconds",
			Help:    "Duration of node action executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_timeouts_total",
			Help: "Response timeouts fired, by flow.",
		}, []string{"flow_id"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_sessions_ended_total",
			Help: "Conversations ended, by reason.",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{m.flowsSelected, m.nodeVisits, m.actions, m.actionDuration, m.timeouts, m.sessionsEnded} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnFlowSelected: func(_ context.Context, e *domain.FlowEvent) {
			source := "trigger"
			if e.Trigger == "" {
				source = "default"
			}
			m.flowsSelected.WithLabelValues(e.FlowID, source).Inc()
		},
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.nodeVisits.WithLabelValues(e.FlowID, string(e.NodeType)).Inc()
		},
		OnAction: func(_ context.Context, e *domain.ActionEvent) {
			result := "ok"
			if e.Err != nil {
				result = "error"
			}
			m.actions.WithLabelValues(string(e.Action), result).Inc()
			m.actionDuration.WithLabelValues(string(e.Action)).Observe(e.Duration.Seconds())
		},
		OnTimeout: func(_ context.Context, e *domain.TimeoutEvent) {
			m.timeouts.WithLabelValues(e.FlowID).Inc()
		},
		OnSessionEnded: func(_ context.Context, e *domain.SessionEvent) {
			m.sessionsEnded.WithLabelValues(e.Reason).Inc()
		},
	}
}
