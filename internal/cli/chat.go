package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/pkg/adapters/console"
)

// ChatOptions configures an interactive terminal conversation.
type ChatOptions struct {
	Config       *config.Config
	Logger       *slog.Logger
	ContactID    string
	ConnectionID string
	In           io.Reader
	Out          io.Writer
	// Plain disables markdown rendering and the banner.
	Plain bool
	// Watch reloads edited flows between turns.
	Watch bool
}

// RunChat talks to the engine as a single contact until EOF, /quit or ctx ends.
func RunChat(ctx context.Context, opts ChatOptions) error {
	var senderOpts []console.Option
	if opts.Plain {
		senderOpts = append(senderOpts, console.WithPlainText())
	} else {
		console.PrintBanner(opts.Out)
	}
	sender := console.NewSender(opts.Out, senderOpts...)

	stack, err := NewStack(ctx, opts.Config, opts.Logger, StackOptions{Sender: sender, Watch: opts.Watch})
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			opts.Logger.Warn("Shutdown incomplete", "err", err)
		}
	}()

	if !opts.Plain {
		printSystemMessage(opts.Out, "Chatting as %s on %s. Type /quit to leave.", opts.ContactID, opts.ConnectionID)
	}

	chat := &console.Chat{
		Handler:      stack.Engine,
		Sender:       sender,
		In:           opts.In,
		ContactID:    opts.ContactID,
		ConnectionID: opts.ConnectionID,
	}
	if !opts.Plain {
		chat.Prompt = "> "
	}

	err = chat.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}
