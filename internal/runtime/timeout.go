package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// expire is the scheduler callback for a session. It already runs inside the session lock.
func (e *Engine) expire(sessionID string) func(context.Context, string) {
	return func(ctx context.Context, token string) {
		reply, err := e.handleTimeout(ctx, sessionID, token)
		if err != nil {
			e.logger.Error("Timeout fallback failed", "session_id", sessionID, "err", err)
			return
		}
		e.deliver(ctx, sessionID, reply)
	}
}

// HandleTimeout applies the timeout fallback of a session if token is still armed.
// Stale or repeated tokens are ignored, so the fallback runs at most once per arming.
// The resulting intents are delivered through the configured MessageSender.
func (e *Engine) HandleTimeout(ctx context.Context, sessionID, token string) error {
	var reply *Reply
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		reply, err = e.handleTimeout(ctx, sessionID, token)
		return err
	})
	if err != nil {
		return err
	}
	e.deliver(ctx, sessionID, reply)
	return nil
}

func (e *Engine) handleTimeout(ctx context.Context, sessionID, token string) (*Reply, error) {
	store := e.sessions.Store()
	s, err := store.Get(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if token == "" || s.TimeoutToken != token || s.Status != domain.StatusActive {
		e.logger.Debug("Ignoring stale timeout", "session_id", sessionID)
		return nil, nil
	}
	e.scheduler.Cancel(sessionID)
	s.TimeoutToken = ""

	t := &turn{e: e, s: s}
	graph, err := e.flows.Get(ctx, s.FlowID)
	if err != nil {
		e.logger.Warn("Timeout on a session whose flow cannot be loaded", "session_id", sessionID, "flow_id", s.FlowID, "err", err)
		t.restart(ctx)
		return t.finish(ctx)
	}
	t.graph = graph

	target := ""
	if node, ok := graph.Node(s.NodeID); ok {
		target = node.OnTimeout
	}
	if target == "" {
		target = e.cfg.TimeoutPolicy
	}
	e.emitTimeout(ctx, s, target)

	switch target {
	case TimeoutEnd:
		t.say(e.cfg.Messages.Timeout)
		t.terminate(ctx, "timeout")
	case TimeoutMainFlow:
		t.say(e.cfg.Messages.Timeout)
		t.restart(ctx)
	default:
		if _, ok := graph.Node(target); !ok {
			e.logger.Warn("Timeout target not in flow, restarting", "session_id", sessionID, "node_id", target)
			t.say(e.cfg.Messages.Timeout)
			t.restart(ctx)
			break
		}
		t.enter(ctx, target)
	}
	return t.finish(ctx)
}

func (e *Engine) deliver(ctx context.Context, sessionID string, reply *Reply) {
	if reply == nil || len(reply.Intents) == 0 {
		return
	}
	if e.sender == nil {
		e.logger.Warn("Dropping timeout intents, no message sender configured",
			"session_id", sessionID, "intents", len(reply.Intents))
		return
	}
	if err := ports.Deliver(ctx, e.sender, reply.Intents); err != nil {
		e.logger.Error("Failed to deliver timeout intents", "session_id", sessionID, "err", err)
	}
}
