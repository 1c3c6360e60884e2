// Package outbound builds the intents and text renderings the engine emits.
package outbound

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/aretw0/parley/pkg/domain"
)

// Interpolator renders a content template against session data.
type Interpolator func(ctx context.Context, text string, data map[string]any) (string, error)

// DefaultInterpolator uses text/template. Missing keys render as empty strings.
func DefaultInterpolator(_ context.Context, text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := template.New("content").Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// Text builds a text intent.
func Text(to domain.Address, text string) domain.OutboundIntent {
	return domain.OutboundIntent{ID: uuid.NewString(), Kind: domain.IntentText, To: to, Text: text}
}

// Media builds a media intent.
func Media(to domain.Address, ref, caption string) domain.OutboundIntent {
	return domain.OutboundIntent{ID: uuid.NewString(), Kind: domain.IntentMedia, To: to, MediaRef: ref, Caption: caption}
}

// Buttons builds a quick-reply intent for a menu.
func Buttons(to domain.Address, text string, options []domain.Option) domain.OutboundIntent {
	return domain.OutboundIntent{
		ID:      uuid.NewString(),
		Kind:    domain.IntentButtons,
		To:      to,
		Text:    text,
		Buttons: domain.ButtonsFrom(options),
	}
}

// MenuText renders a menu as plain text, one "value - text" line per option.
// Channels without button support use it as the fallback body.
func MenuText(content string, options []domain.Option) string {
	var b strings.Builder
	b.WriteString(content)
	for _, opt := range options {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s - %s", opt.Value, opt.Text)
	}
	return b.String()
}
