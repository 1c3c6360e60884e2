package twilio

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Handler runs one conversational turn.
type Handler interface {
	HandleInboundMessage(ctx context.Context, msg domain.InboundMessage) (*runtime.Reply, error)
}

const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// Webhook receives Twilio "incoming message" callbacks for one connection
// and delivers the reply through Sender.
type Webhook struct {
	handler      Handler
	sender       ports.MessageSender
	connectionID string
	validator    *client.RequestValidator
	// publicURL is the URL Twilio signs; required for signature checks behind proxies.
	publicURL string
	logger    *slog.Logger
}

type WebhookOption func(*Webhook)

// WithSignature enables X-Twilio-Signature verification against publicURL.
func WithSignature(authToken, publicURL string) WebhookOption {
	return func(w *Webhook) {
		v := client.NewRequestValidator(authToken)
		w.validator = &v
		w.publicURL = publicURL
	}
}

func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

func NewWebhook(h Handler, sender ports.MessageSender, connectionID string, opts ...WebhookOption) *Webhook {
	w := &Webhook{handler: h, sender: sender, connectionID: connectionID, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (wh *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if wh.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !wh.validator.Validate(wh.publicURL, params, r.Header.Get("X-Twilio-Signature")) {
			wh.logger.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	msg := domain.InboundMessage{
		ContactID:    strings.TrimPrefix(r.PostForm.Get("From"), "whatsapp:"),
		ConnectionID: wh.connectionID,
		Text:         r.PostForm.Get("Body"),
	}
	if r.PostForm.Get("NumMedia") != "" && r.PostForm.Get("NumMedia") != "0" {
		msg.MediaRef = r.PostForm.Get("MediaUrl0")
		msg.MediaType = r.PostForm.Get("MediaContentType0")
	}
	if msg.ContactID == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}

	reply, err := wh.handler.HandleInboundMessage(r.Context(), msg)
	if err != nil {
		wh.logger.Error("Twilio webhook turn failed", "contact_id", msg.ContactID, "err", err)
		http.Error(w, "turn failed", http.StatusInternalServerError)
		return
	}
	if err := ports.Deliver(r.Context(), wh.sender, reply.Intents); err != nil {
		wh.logger.Error("Twilio reply delivery failed", "contact_id", msg.ContactID, "err", err)
	}

	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(emptyTwiML))
}
