// Package console is a terminal channel for local conversations: it renders
// outbound messages as markdown and reads contact replies from a reader.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Sender writes bot messages to a terminal.
type Sender struct {
	mu     sync.Mutex
	out    io.Writer
	render func(string) (string, error)
	output *termenv.Output
}

var _ ports.MessageSender = (*Sender)(nil)

type Option func(*Sender)

// WithPlainText disables markdown rendering and colors.
func WithPlainText() Option {
	return func(s *Sender) {
		s.render = func(md string) (string, error) { return md + "\n", nil }
		s.output = termenv.NewOutput(s.out, termenv.WithProfile(termenv.Ascii))
	}
}

// NewSender renders to out. Markdown rendering is enabled only when out is a terminal.
func NewSender(out io.Writer, opts ...Option) *Sender {
	s := &Sender{out: out, output: termenv.NewOutput(out)}
	if isTerminal(out) {
		s.render = NewRenderer(width(out))
	} else {
		WithPlainText()(s)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRenderer returns a function that renders markdown using glamour.
// A non-positive wrap keeps glamour's default width.
func NewRenderer(wrap int) func(string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithAutoStyle()}
	if wrap > 0 {
		opts = append(opts, glamour.WithWordWrap(wrap))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return func(md string) (string, error) { return md + "\n", nil }
	}
	return r.Render
}

func (s *Sender) SendText(_ context.Context, _ domain.Address, text string) error {
	return s.write(text)
}

func (s *Sender) SendMedia(_ context.Context, _ domain.Address, mediaRef, caption string) error {
	line := s.output.String("[attachment] " + mediaRef).Faint().String()
	if caption != "" {
		line += "\n" + caption
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, line)
	return err
}

func (s *Sender) SendButtons(_ context.Context, _ domain.Address, text string, buttons []domain.Button) error {
	var md strings.Builder
	md.WriteString(text)
	md.WriteString("\n\n")
	for _, b := range buttons {
		fmt.Fprintf(&md, "- **%s** %s\n", b.Value, b.Text)
	}
	return s.write(md.String())
}

// Deliver prints a batch of intents in order.
func (s *Sender) Deliver(ctx context.Context, intents []domain.OutboundIntent) error {
	return ports.Deliver(ctx, s, intents)
}

// Notice prints a dimmed system line (session ended, errors).
func (s *Sender) Notice(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, s.output.String(fmt.Sprintf(format, args...)).Faint())
}

func (s *Sender) write(md string) error {
	rendered, err := s.render(md)
	if err != nil {
		rendered = md + "\n"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = io.WriteString(s.out, rendered)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	cols, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return cols - 4
}
