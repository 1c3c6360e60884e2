// Package actions runs the side-effects attached to a node.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/outbound"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Result summarizes one node's action run.
type Result struct {
	Executed  []domain.ActionType
	Intents   []domain.OutboundIntent
	Ended     bool
	HandedOff bool
	Wait      bool
}

// Flush delivers the messages queued so far in a turn, pending included,
// before a port call that reaches the contact directly.
type Flush func(ctx context.Context, pending []domain.OutboundIntent) error

// Executor maps each action type onto exactly one port.
// send_message has no port of its own: its text is queued with the turn's intents.
type Executor struct {
	documents   ports.DocumentSender
	departments ports.DepartmentRouter
	agents      ports.AgentRouter

	interpolate outbound.Interpolator
	onAction    func(context.Context, *domain.ActionEvent)
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the Executor.
type Option func(*Executor)

func WithDocumentSender(s ports.DocumentSender) Option {
	return func(e *Executor) { e.documents = s }
}

func WithDepartmentRouter(r ports.DepartmentRouter) Option {
	return func(e *Executor) { e.departments = r }
}

func WithAgentRouter(r ports.AgentRouter) Option {
	return func(e *Executor) { e.agents = r }
}

// WithInterpolator replaces the text/template interpolator used for config strings.
func WithInterpolator(i outbound.Interpolator) Option {
	return func(e *Executor) { e.interpolate = i }
}

// WithActionHook reports every executed action, failed ones included.
func WithActionHook(fn func(context.Context, *domain.ActionEvent)) Option {
	return func(e *Executor) { e.onAction = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor. Ports that are not supplied make their actions fail.
func New(opts ...Option) *Executor {
	e := &Executor{
		interpolate: outbound.DefaultInterpolator,
		logger:      logging.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sorted returns the active actions of a node ascending by Order.
func Sorted(actions []domain.NodeAction) []domain.NodeAction {
	out := make([]domain.NodeAction, 0, len(actions))
	for _, a := range actions {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Execute runs the node's actions in order and stops at the first failure.
// The returned error is a *domain.ActionError; Result still holds the work done before it.
// end_conversation stops the run; actions after it are skipped.
// flush may be nil; when set it runs before send_document so the document
// follows every message queued ahead of it, and Result.Intents then only
// holds what was queued after the last flush.
func (e *Executor) Execute(ctx context.Context, node *domain.Node, s *domain.Session, flush Flush) (Result, error) {
	var res Result
	list := Sorted(node.Actions)

	for i, action := range list {
		if res.Ended {
			e.logger.Warn("Skipping action after end_conversation",
				"session_id", s.ID, "node_id", node.ID, "action", action.Type)
			continue
		}

		started := e.now()
		err := e.run(ctx, action, s, &res, flush)
		e.emit(ctx, node, s, action.Type, e.now().Sub(started), err)

		if err != nil {
			aerr := &domain.ActionError{NodeID: node.ID, Action: action.Type, Err: err}
			e.logger.Error("Action failed",
				"session_id", s.ID, "node_id", node.ID, "action", action.Type,
				"remaining", len(list)-i-1, "err", err)
			return res, aerr
		}
		res.Executed = append(res.Executed, action.Type)
	}
	return res, nil
}

func (e *Executor) run(ctx context.Context, action domain.NodeAction, s *domain.Session, res *Result, flush Flush) error {
	switch action.Type {
	case domain.ActionSendMessage:
		var cfg domain.MessageConfig
		if err := decode(action.Config, &cfg); err != nil {
			return err
		}
		text, err := e.render(ctx, cfg.Text, s)
		if err != nil {
			return err
		}
		if text == "" {
			return errors.New("send_message: text is required")
		}
		res.Intents = append(res.Intents, outbound.Text(s.Address(), text))
		return nil

	case domain.ActionSendDocument:
		var cfg domain.DocumentConfig
		if err := decode(action.Config, &cfg); err != nil {
			return err
		}
		if cfg.URL == "" {
			return errors.New("send_document: url is required")
		}
		var err error
		if cfg.URL, err = e.render(ctx, cfg.URL, s); err != nil {
			return err
		}
		if cfg.Caption, err = e.render(ctx, cfg.Caption, s); err != nil {
			return err
		}
		if e.documents == nil {
			return fmt.Errorf("send_document: %w", domain.ErrCapabilityUnavailable)
		}
		if flush != nil {
			if err := flush(ctx, res.Intents); err != nil {
				return fmt.Errorf("send_document: deliver queued messages: %w", err)
			}
			res.Intents = nil
		}
		return e.documents.Send(ctx, cfg, s)

	case domain.ActionTransferDepartment, domain.ActionTransferAgent:
		var cfg domain.TransferConfig
		if err := decode(action.Config, &cfg); err != nil {
			return err
		}
		msg, err := e.render(ctx, cfg.Message, s)
		if err != nil {
			return err
		}
		cfg.Message = msg
		if err := e.transfer(ctx, action.Type, cfg, s); err != nil {
			return err
		}
		s.Status = domain.StatusHandedOff
		res.HandedOff = true
		if msg != "" {
			res.Intents = append(res.Intents, outbound.Text(s.Address(), msg))
		}
		return nil

	case domain.ActionWaitInput:
		res.Wait = true
		return nil

	case domain.ActionEndConversation:
		var cfg domain.EndConfig
		if err := decode(action.Config, &cfg); err != nil {
			return err
		}
		msg, err := e.render(ctx, cfg.Message, s)
		if err != nil {
			return err
		}
		if msg != "" {
			res.Intents = append(res.Intents, outbound.Text(s.Address(), msg))
		}
		res.Ended = true
		return nil
	}
	return fmt.Errorf("unknown action type %q", action.Type)
}

func (e *Executor) transfer(ctx context.Context, typ domain.ActionType, cfg domain.TransferConfig, s *domain.Session) error {
	if typ == domain.ActionTransferAgent {
		if cfg.AgentID == "" {
			return errors.New("transfer_agent: agent_id is required")
		}
		if e.agents == nil {
			return fmt.Errorf("transfer_agent: %w", domain.ErrCapabilityUnavailable)
		}
		return e.agents.Transfer(ctx, cfg, s)
	}
	if cfg.DepartmentID == "" {
		return errors.New("transfer_department: department_id is required")
	}
	if e.departments == nil {
		return fmt.Errorf("transfer_department: %w", domain.ErrCapabilityUnavailable)
	}
	return e.departments.Transfer(ctx, cfg, s)
}

func (e *Executor) render(ctx context.Context, text string, s *domain.Session) (string, error) {
	if text == "" {
		return "", nil
	}
	out, err := e.interpolate(ctx, text, s.Vars())
	if err != nil {
		return "", fmt.Errorf("interpolate config: %w", err)
	}
	return out, nil
}

func (e *Executor) emit(ctx context.Context, node *domain.Node, s *domain.Session, typ domain.ActionType, d time.Duration, err error) {
	if e.onAction == nil {
		return
	}
	e.onAction(ctx, &domain.ActionEvent{
		EventBase: domain.EventBase{
			Timestamp: e.now(),
			Type:      domain.EventAction,
			SessionID: s.ID,
			FlowID:    s.FlowID,
		},
		NodeID:   node.ID,
		Action:   typ,
		Duration: d,
		Err:      err,
	})
}

// decode maps an opaque config payload onto a typed config.
func decode(input map[string]any, out any) error {
	if len(input) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode action config: %w", err)
	}
	return nil
}
