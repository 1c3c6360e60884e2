package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
)

// MessageSender delivers outbound messages to a contact on a channel.
type MessageSender interface {
	SendText(ctx context.Context, to domain.Address, text string) error
	SendMedia(ctx context.Context, to domain.Address, mediaRef, caption string) error
	SendButtons(ctx context.Context, to domain.Address, text string, buttons []domain.Button) error
}

// DocumentSender delivers a configured document to the session's contact.
type DocumentSender interface {
	Send(ctx context.Context, cfg domain.DocumentConfig, session *domain.Session) error
}

// DepartmentRouter hands a conversation over to a department queue.
type DepartmentRouter interface {
	Transfer(ctx context.Context, cfg domain.TransferConfig, session *domain.Session) error
}

// AgentRouter hands a conversation over to a specific agent.
type AgentRouter interface {
	Transfer(ctx context.Context, cfg domain.TransferConfig, session *domain.Session) error
}

// Deliver sends each intent through the sender in order.
// It keeps going after a failure and returns every error joined.
func Deliver(ctx context.Context, sender MessageSender, intents []domain.OutboundIntent) error {
	if sender == nil {
		if len(intents) == 0 {
			return nil
		}
		return fmt.Errorf("deliver %d intents: %w", len(intents), domain.ErrCapabilityUnavailable)
	}

	var errs []error
	for _, in := range intents {
		var err error
		switch in.Kind {
		case domain.IntentMedia:
			err = sender.SendMedia(ctx, in.To, in.MediaRef, in.Caption)
		case domain.IntentButtons:
			err = sender.SendButtons(ctx, in.To, in.Text, in.Buttons)
		default:
			err = sender.SendText(ctx, in.To, in.Text)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", in.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Fanout returns a MessageSender that forwards every message to each sender.
// All senders are tried; their errors are joined.
func Fanout(senders ...MessageSender) MessageSender {
	out := make(fanout, 0, len(senders))
	for _, s := range senders {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type fanout []MessageSender

func (f fanout) each(fn func(MessageSender) error) error {
	var errs []error
	for _, s := range f {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) SendText(ctx context.Context, to domain.Address, text string) error {
	return f.each(func(s MessageSender) error { return s.SendText(ctx, to, text) })
}

func (f fanout) SendMedia(ctx context.Context, to domain.Address, mediaRef, caption string) error {
	return f.each(func(s MessageSender) error { return s.SendMedia(ctx, to, mediaRef, caption) })
}

func (f fanout) SendButtons(ctx context.Context, to domain.Address, text string, buttons []domain.Button) error {
	return f.each(func(s MessageSender) error { return s.SendButtons(ctx, to, text, buttons) })
}

// RouteByConnection returns a MessageSender that picks the sender registered
// for the recipient's connection id, falling back to fallback.
// A message with no route and no fallback fails with domain.ErrCapabilityUnavailable.
func RouteByConnection(routes map[string]MessageSender, fallback MessageSender) MessageSender {
	r := router{routes: make(map[string]MessageSender, len(routes)), fallback: fallback}
	for id, s := range routes {
		if s != nil {
			r.routes[id] = s
		}
	}
	return r
}

type router struct {
	routes   map[string]MessageSender
	fallback MessageSender
}

func (r router) pick(to domain.Address) (MessageSender, error) {
	if s, ok := r.routes[to.ConnectionID]; ok {
		return s, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("connection %q: %w", to.ConnectionID, domain.ErrCapabilityUnavailable)
}

func (r router) SendText(ctx context.Context, to domain.Address, text string) error {
	s, err := r.pick(to)
	if err != nil {
		return err
	}
	return s.SendText(ctx, to, text)
}

func (r router) SendMedia(ctx context.Context, to domain.Address, mediaRef, caption string) error {
	s, err := r.pick(to)
	if err != nil {
		return err
	}
	return s.SendMedia(ctx, to, mediaRef, caption)
}

func (r router) SendButtons(ctx context.Context, to domain.Address, text string, buttons []domain.Button) error {
	s, err := r.pick(to)
	if err != nil {
		return err
	}
	return s.SendButtons(ctx, to, text, buttons)
}
