// Package twilio delivers engine messages over WhatsApp through the Twilio
// REST API and turns Twilio webhooks into inbound messages.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// MessageAPI is the subset of the Twilio REST client the sender uses.
type MessageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds the Twilio credentials.
type Opts struct {
	AccountSID string
	AuthToken  string
	// From is the sender in "whatsapp:+1234567890" form.
	From string
}

// Sender implements ports.MessageSender for WhatsApp over Twilio.
// Contact ids are phone numbers in E.164 form.
type Sender struct {
	api    MessageAPI
	from   string
	logger *slog.Logger
}

var _ ports.MessageSender = (*Sender)(nil)

type Option func(*Sender)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// WithAPI replaces the REST client, mainly for tests.
func WithAPI(api MessageAPI) Option {
	return func(s *Sender) { s.api = api }
}

// NewSender creates a sender from credentials.
func NewSender(o Opts, opts ...Option) (*Sender, error) {
	if o.From == "" {
		return nil, errors.New("twilio from number must be provided")
	}
	s := &Sender{from: whatsapp(o.From), logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.api == nil {
		if o.AccountSID == "" || o.AuthToken == "" {
			return nil, errors.New("twilio account SID and auth token must be provided")
		}
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: o.AccountSID,
			Password: o.AuthToken,
		})
		s.api = client.Api
	}
	return s, nil
}

func (s *Sender) SendText(ctx context.Context, to domain.Address, text string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(text)
	return s.create(ctx, to, params)
}

func (s *Sender) SendMedia(ctx context.Context, to domain.Address, mediaRef, caption string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetMediaUrl([]string{mediaRef})
	if caption != "" {
		params.SetBody(caption)
	}
	return s.create(ctx, to, params)
}

// SendButtons sends the prompt followed by a numbered option list.
// Plain WhatsApp sessions have no quick replies without approved templates.
func (s *Sender) SendButtons(ctx context.Context, to domain.Address, text string, buttons []domain.Button) error {
	var b strings.Builder
	b.WriteString(text)
	if len(buttons) > 0 {
		b.WriteString("\n")
	}
	for _, btn := range buttons {
		fmt.Fprintf(&b, "\n%s - %s", btn.Value, btn.Text)
	}
	return s.SendText(ctx, to, b.String())
}

func (s *Sender) create(ctx context.Context, to domain.Address, params *twilioApi.CreateMessageParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params.SetTo(whatsapp(to.ContactID))
	params.SetFrom(s.from)

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		s.logger.Error("Twilio CreateMessage failed", "to", to.ContactID, "err", err)
		return fmt.Errorf("failed to send message to %s: %w", to.ContactID, err)
	}
	if msg != nil && msg.Sid != nil {
		s.logger.Debug("Twilio message sent", "to", to.ContactID, "sid", *msg.Sid)
	}
	return nil
}

func whatsapp(number string) string {
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
