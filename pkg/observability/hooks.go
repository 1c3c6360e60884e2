package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/parley/pkg/domain"
)

// LogHooks logs every lifecycle event at debug level, action failures at warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnFlowSelected: func(ctx context.Context, e *domain.FlowEvent) {
			logger.DebugContext(ctx, "Flow selected", "session_id", e.SessionID, "flow_id", e.FlowID, "trigger", e.Trigger)
		},
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "Enter Node", "session_id", e.SessionID, "node_id", e.NodeID, "type", e.NodeType)
		},
		OnAction: func(ctx context.Context, e *domain.ActionEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "Action failed", "session_id", e.SessionID, "node_id", e.NodeID, "action", e.Action, "err", e.Err)
				return
			}
			logger.DebugContext(ctx, "Action executed", "session_id", e.SessionID, "node_id", e.NodeID, "action", e.Action, "duration", e.Duration)
		},
		OnTimeout: func(ctx context.Context, e *domain.TimeoutEvent) {
			logger.DebugContext(ctx, "Timeout fired", "session_id", e.SessionID, "node_id", e.NodeID, "target", e.Target)
		},
		OnSessionEnded: func(ctx context.Context, e *domain.SessionEvent) {
			logger.DebugContext(ctx, "Session ended", "session_id", e.SessionID, "reason", e.Reason)
		},
	}
}

// Combine returns hooks that call each of the given hooks in order.
func Combine(all ...domain.LifecycleHooks) domain.LifecycleHooks {
	var out domain.LifecycleHooks
	for _, h := range all {
		out.OnFlowSelected = chain(out.OnFlowSelected, h.OnFlowSelected)
		out.OnNodeEnter = chain(out.OnNodeEnter, h.OnNodeEnter)
		out.OnAction = chain(out.OnAction, h.OnAction)
		out.OnTimeout = chain(out.OnTimeout, h.OnTimeout)
		out.OnSessionEnded = chain(out.OnSessionEnded, h.OnSessionEnded)
	}
	return out
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
