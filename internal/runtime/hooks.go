package runtime

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

func (e *Engine) base(t domain.EventType, s *domain.Session) domain.EventBase {
	return domain.EventBase{Timestamp: e.clock.Now(), Type: t, SessionID: s.ID, FlowID: s.FlowID}
}

func (e *Engine) emitFlowSelected(ctx context.Context, s *domain.Session, trigger string) {
	e.logger.Info("Flow selected", "session_id", s.ID, "flow_id", s.FlowID, "trigger", trigger)
	if e.hooks.OnFlowSelected != nil {
		e.hooks.OnFlowSelected(ctx, &domain.FlowEvent{EventBase: e.base(domain.EventFlowSelected, s), Trigger: trigger})
	}
}

func (e *Engine) emitNodeEnter(ctx context.Context, s *domain.Session, node *domain.Node) {
	e.logger.Debug("Node entered", "session_id", s.ID, "flow_id", s.FlowID, "node_id", node.ID)
	if e.hooks.OnNodeEnter != nil {
		e.hooks.OnNodeEnter(ctx, &domain.NodeEvent{EventBase: e.base(domain.EventNodeEnter, s), NodeID: node.ID, NodeType: node.Type})
	}
}

func (e *Engine) emitTimeout(ctx context.Context, s *domain.Session, target string) {
	e.logger.Info("Timeout fired", "session_id", s.ID, "flow_id", s.FlowID, "node_id", s.NodeID, "target", target)
	if e.hooks.OnTimeout != nil {
		e.hooks.OnTimeout(ctx, &domain.TimeoutEvent{EventBase: e.base(domain.EventTimeout, s), NodeID: s.NodeID, Target: target})
	}
}

func (e *Engine) emitSessionEnded(ctx context.Context, s *domain.Session, reason string) {
	e.logger.Info("Session ended", "session_id", s.ID, "flow_id", s.FlowID, "reason", reason)
	if e.hooks.OnSessionEnded != nil {
		e.hooks.OnSessionEnded(ctx, &domain.SessionEvent{EventBase: e.base(domain.EventSessionEnded, s), Reason: reason})
	}
}
