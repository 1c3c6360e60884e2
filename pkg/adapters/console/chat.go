package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
)

// Handler runs one conversational turn.
type Handler interface {
	HandleInboundMessage(ctx context.Context, msg domain.InboundMessage) (*runtime.Reply, error)
}

// Chat drives a conversation from a line-oriented reader.
//
// Lines are sent as text. Two commands are understood:
//
//	/attach <ref> [mime-type]   send an attachment
//	/quit                       leave the chat
type Chat struct {
	Handler      Handler
	Sender       *Sender
	In           io.Reader
	ContactID    string
	ConnectionID string
	// Prompt is printed before each read when set.
	Prompt string
}

// Run reads until EOF, /quit or ctx cancellation.
func (c *Chat) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		c.prompt()
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok = <-lines:
		}
		if !ok {
			select {
			case err := <-readErr:
				return err
			default:
				return nil
			}
		}

		msg, quit := c.parse(line)
		if quit {
			return nil
		}
		if msg.Text == "" && msg.MediaRef == "" {
			continue
		}

		reply, err := c.Handler.HandleInboundMessage(ctx, msg)
		if err != nil {
			if errors.Is(err, runtime.ErrInputTooLarge) || errors.Is(err, runtime.ErrInvalidUTF8) {
				c.Sender.Notice("message rejected: %v", err)
				continue
			}
			return fmt.Errorf("turn failed: %w", err)
		}
		if err := c.Sender.Deliver(ctx, reply.Intents); err != nil {
			return err
		}
		if reply.Ended {
			c.Sender.Notice("(conversation ended, send a message to start again)")
		}
	}
}

func (c *Chat) prompt() {
	if c.Prompt == "" {
		return
	}
	c.Sender.mu.Lock()
	defer c.Sender.mu.Unlock()
	fmt.Fprint(c.Sender.out, c.Prompt)
}

func (c *Chat) parse(line string) (domain.InboundMessage, bool) {
	msg := domain.InboundMessage{ContactID: c.ContactID, ConnectionID: c.ConnectionID}
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "/quit":
		return msg, true
	case strings.HasPrefix(trimmed, "/attach "):
		parts := strings.Fields(strings.TrimPrefix(trimmed, "/attach "))
		if len(parts) > 0 {
			msg.MediaRef = parts[0]
		}
		if len(parts) > 1 {
			msg.MediaType = parts[1]
		}
		return msg, false
	}
	msg.Text = line
	return msg, false
}
