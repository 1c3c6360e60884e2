package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/form"
	"github.com/aretw0/parley/internal/outbound"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// turn carries the state of one event being processed under the session lock.
type turn struct {
	e       *Engine
	s       *domain.Session
	graph   *domain.FlowGraph
	intents []domain.OutboundIntent
	// delivered holds intents already sent through the engine's sender mid-turn.
	delivered []domain.OutboundIntent
	ended     bool
}

func (t *turn) say(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	t.intents = append(t.intents, outbound.Text(t.s.Address(), text))
}

// flush sends everything queued so far, pending action messages included,
// so a port that reaches the contact directly does not overtake them.
// Without a sender the intents stay queued for the host.
func (t *turn) flush(ctx context.Context, pending []domain.OutboundIntent) error {
	t.intents = append(t.intents, pending...)
	if t.e.sender == nil || len(t.intents) == 0 {
		return nil
	}
	if err := ports.Deliver(ctx, t.e.sender, t.intents); err != nil {
		return err
	}
	t.delivered = append(t.delivered, t.intents...)
	t.intents = nil
	return nil
}

// dispatch consumes an inbound message at the session's current node.
func (t *turn) dispatch(ctx context.Context, node *domain.Node, msg domain.InboundMessage) {
	switch node.Type {
	case domain.NodeMenu:
		t.choose(ctx, node, msg.Text)

	case domain.NodePrompt:
		value := strings.TrimSpace(msg.Text)
		if value == "" {
			value = msg.MediaRef
		}
		if value == "" {
			t.render(ctx, node)
			return
		}
		if node.SaveTo != "" {
			t.s.Fields[node.SaveTo] = value
		}
		t.advance(ctx, node.Next)

	case domain.NodeForm:
		if t.s.Stage != domain.StageCollectingField || t.s.Cursor == 0 {
			// A form left mid-way (e.g. after an action failure) resumes at its first field.
			t.s.Cursor = 1
		}
		step := form.Advance(node, t.s, msg)
		if step.Err != nil {
			var verr *domain.FormValidationError
			if errors.As(step.Err, &verr) {
				t.e.logger.Debug("Form reply rejected",
					"session_id", t.s.ID, "node_id", node.ID, "field", verr.Field, "reason", verr.Reason)
				t.say(verr.Reason)
			}
		}
		if step.Done {
			t.s.Stage = domain.StageAwaitingInput
			t.advance(ctx, step.Next)
			return
		}
		t.s.Stage = domain.StageCollectingField
		t.say(step.Prompt)

	case domain.NodeCondition:
		t.enter(ctx, node.ID)

	default:
		if t.s.Stage == domain.StageError && len(node.Actions) > 0 {
			// The node's actions failed last turn; run the node again instead of moving past it.
			t.enter(ctx, node.ID)
			return
		}
		t.advance(ctx, node.Next)
	}
}

// choose matches a menu reply against the options in effect for the session.
func (t *turn) choose(ctx context.Context, node *domain.Node, text string) {
	choice := strings.TrimSpace(text)
	for _, opt := range t.s.OptionsFor(node) {
		if strings.TrimSpace(opt.Value) == choice {
			t.s.InvalidAttempts = 0
			t.enter(ctx, opt.NextNodeID)
			return
		}
	}

	t.s.InvalidAttempts++
	ierr := &domain.InvalidOptionError{NodeID: node.ID, Input: choice, Attempts: t.s.InvalidAttempts}
	t.e.logger.Debug("Invalid option", "session_id", t.s.ID, "node_id", node.ID, "err", ierr)

	if t.s.InvalidAttempts >= t.e.cfg.MaxInvalidAttempts {
		t.s.InvalidAttempts = 0
		t.say(t.e.cfg.Messages.TooManyInvalid)
		if node.OnInvalid != "" {
			t.enter(ctx, node.OnInvalid)
			return
		}
		t.restart(ctx)
		return
	}

	t.say(t.e.cfg.Messages.InvalidOption)
	t.render(ctx, node)
}

func (t *turn) advance(ctx context.Context, next string) {
	if next == "" {
		t.terminate(ctx, "completed")
		return
	}
	t.enter(ctx, next)
}

// restart returns the session to the root of its root flow with empty fields.
// The root flow is the connection's default flow, else the current flow.
func (t *turn) restart(ctx context.Context) {
	flowID := t.e.defaultFlow(t.s.ConnectionID)
	if flowID == "" {
		flowID = t.s.FlowID
	}
	graph, err := t.e.flows.Get(ctx, flowID)
	if err != nil {
		t.e.logger.Error("Cannot restart session, ending it", "session_id", t.s.ID, "flow_id", flowID, "err", err)
		t.say(t.e.cfg.Messages.Apology)
		t.terminate(ctx, "restart_failed")
		return
	}
	t.graph = graph
	t.s.SwitchFlow(flowID)
	t.s.Stage = domain.StageSelectingFlow
	t.s.Status = domain.StatusActive
	t.enter(ctx, graph.RootID())
}

// enter moves to nodeID and keeps auto-advancing until a node waits for
// input, the conversation ends or an action fails.
func (t *turn) enter(ctx context.Context, nodeID string) {
	for hops := 0; ; hops++ {
		if hops >= t.e.cfg.MaxHops {
			t.fail(ctx, fmt.Errorf("flow %s: more than %d hops without waiting for input", t.s.FlowID, t.e.cfg.MaxHops))
			return
		}
		node, ok := t.graph.Node(nodeID)
		if !ok {
			t.fail(ctx, fmt.Errorf("flow %s: %w: %s", t.s.FlowID, domain.ErrNodeNotFound, nodeID))
			return
		}

		t.visit(ctx, node)

		if node.Type == domain.NodeCondition {
			target, err := t.e.resolver.Resolve(ctx, node, t.s)
			if err != nil {
				t.fail(ctx, err)
				return
			}
			nodeID = target
			continue
		}

		formDone, formNext := t.render(ctx, node)

		if len(node.Actions) > 0 {
			t.s.Stage = domain.StageExecutingActions
			res, err := t.e.executor.Execute(ctx, node, t.s, t.flush)
			t.intents = append(t.intents, res.Intents...)
			if err != nil {
				var aerr *domain.ActionError
				if errors.As(err, &aerr) {
					t.s.Label = string(aerr.Action)
				}
				t.s.Stage = domain.StageError
				t.say(t.e.cfg.Messages.Apology)
				return
			}
			if res.Ended {
				t.terminate(ctx, "end_conversation")
				return
			}
			if res.HandedOff {
				t.s.Status = domain.StatusHandedOff
				t.s.Stage = domain.StageAwaitingInput
				return
			}
			if res.Wait {
				t.s.Stage = domain.StageAwaitingInput
				return
			}
		}

		if node.IsFinal {
			t.terminate(ctx, "final")
			return
		}

		switch node.Type {
		case domain.NodeForm:
			if !formDone {
				t.s.Stage = domain.StageCollectingField
				return
			}
			if formNext == "" {
				t.terminate(ctx, "completed")
				return
			}
			nodeID = formNext
		case domain.NodeMenu, domain.NodePrompt:
			t.s.Stage = domain.StageAwaitingInput
			return
		default:
			if node.WaitForInput {
				t.s.Stage = domain.StageAwaitingInput
				return
			}
			if node.Next == "" {
				t.terminate(ctx, "completed")
				return
			}
			nodeID = node.Next
		}
	}
}

func (t *turn) visit(ctx context.Context, node *domain.Node) {
	t.s.NodeID = node.ID
	t.s.InvalidAttempts = 0
	t.s.Label = ""
	t.s.History = append(t.s.History, node.ID)
	if over := len(t.s.History) - t.e.cfg.HistoryLimit; over > 0 {
		t.s.History = t.s.History[over:]
	}
	t.e.emitNodeEnter(ctx, t.s, node)
}

// render queues the node's content. For forms it also starts collection and
// reports whether the form is already complete.
func (t *turn) render(ctx context.Context, node *domain.Node) (bool, string) {
	text, err := t.e.interpolate(ctx, node.Content, t.s.Vars())
	if err != nil {
		t.e.logger.Warn("Content interpolation failed, sending raw text",
			"session_id", t.s.ID, "node_id", node.ID, "err", err)
		text = node.Content
	}

	switch node.Type {
	case domain.NodeMenu:
		opts := t.s.OptionsFor(node)
		if len(opts) == 0 {
			t.say(text)
			return false, ""
		}
		t.intents = append(t.intents, outbound.Buttons(t.s.Address(), text, opts))
	case domain.NodeForm:
		t.say(text)
		step := form.Begin(node, t.s)
		if step.Done {
			return true, step.Next
		}
		t.s.Stage = domain.StageCollectingField
		t.say(step.Prompt)
	default:
		t.say(text)
	}
	return false, ""
}

// fail records an engine-level error at the current node without ending the session.
func (t *turn) fail(ctx context.Context, err error) {
	t.e.logger.Error("Flow error", "session_id", t.s.ID, "flow_id", t.s.FlowID, "node_id", t.s.NodeID, "err", err)
	t.s.Stage = domain.StageError
	t.say(t.e.cfg.Messages.Apology)
}

func (t *turn) terminate(ctx context.Context, reason string) {
	t.s.Stage = domain.StageTerminated
	t.s.Status = domain.StatusEnded
	t.ended = true
	t.e.emitSessionEnded(ctx, t.s, reason)
}

// finish persists the session and arms the timer of the node it now waits on.
func (t *turn) finish(ctx context.Context) (*Reply, error) {
	store := t.e.sessions.Store()
	reply := &Reply{Intents: t.intents, Delivered: t.delivered, Ended: t.ended}

	if t.ended {
		if err := store.Delete(ctx, t.s.ID); err != nil {
			return nil, fmt.Errorf("delete session %s: %w", t.s.ID, err)
		}
		reply.Session = t.s.Clone()
		return reply, nil
	}

	t.s.TimeoutToken = ""
	if d := t.waitTimeout(); d > 0 {
		t.s.TimeoutToken = t.e.scheduler.Arm(t.s.ID, d, t.e.expire(t.s.ID))
	}
	if err := store.Save(ctx, t.s); err != nil {
		t.e.scheduler.Cancel(t.s.ID)
		return nil, fmt.Errorf("save session %s: %w", t.s.ID, err)
	}
	reply.Session = t.s.Clone()
	return reply, nil
}

func (t *turn) waitTimeout() time.Duration {
	if t.graph == nil || t.s.Status != domain.StatusActive {
		return 0
	}
	if t.s.Stage != domain.StageAwaitingInput && t.s.Stage != domain.StageCollectingField {
		return 0
	}
	node, ok := t.graph.Node(t.s.NodeID)
	if !ok {
		return 0
	}
	return node.Timeout()
}
