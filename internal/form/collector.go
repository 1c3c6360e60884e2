// Package form collects the fields of a form node one reply at a time.
package form

import (
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

// Step is what the engine should do after a collector call.
type Step struct {
	// Prompt is the question to send when the form is not complete.
	Prompt string
	// Stage is the validation label of the field being asked.
	Stage string
	// Done is set once every field is stored; Next is the node to enter.
	Done bool
	Next string
	// Err is a *domain.FormValidationError when the reply was rejected.
	Err error
}

// Begin points the session at the first field and returns its prompt.
func Begin(node *domain.Node, s *domain.Session) Step {
	if len(node.Fields) == 0 {
		s.Cursor = 0
		s.Label = ""
		return Step{Done: true, Next: node.Next}
	}
	s.Cursor = 1
	return ask(node, s)
}

// Advance validates the reply for the current field.
// On success the value is stored and the cursor moves forward; on failure the
// cursor stays put and the same prompt is returned with the reason.
func Advance(node *domain.Node, s *domain.Session, in domain.InboundMessage) Step {
	if len(node.Fields) == 0 {
		return Step{Done: true, Next: node.Next}
	}
	if s.Cursor < 1 || s.Cursor > len(node.Fields) {
		s.Cursor = 1
	}
	field := node.Fields[s.Cursor-1]

	value, reason := Validate(field, in)
	if reason != "" {
		step := ask(node, s)
		step.Err = &domain.FormValidationError{
			NodeID: node.ID,
			Field:  field.Key,
			Stage:  stageOf(field),
			Reason: reason,
		}
		return step
	}

	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	if value != "" || !field.Optional {
		s.Fields[field.Key] = value
	}
	s.Cursor++

	if s.Cursor > len(node.Fields) {
		s.Label = ""
		return Step{Done: true, Next: node.Next}
	}
	return ask(node, s)
}

func ask(node *domain.Node, s *domain.Session) Step {
	field := node.Fields[s.Cursor-1]
	s.Label = stageOf(field)
	return Step{Prompt: field.Prompt, Stage: s.Label}
}

func stageOf(f domain.FormField) string {
	if f.Stage == "" {
		return domain.FieldText
	}
	return f.Stage
}

// Validate checks a reply against the field's stage and pattern.
// It returns the normalized value to store, or a non-empty reason.
func Validate(field domain.FormField, in domain.InboundMessage) (string, string) {
	text := strings.TrimSpace(in.Text)

	switch stageOf(field) {
	case domain.FieldAttachImage:
		if !in.HasMedia() {
			return "", "an image attachment is required"
		}
		if !in.IsImage() {
			return "", "the attachment must be an image"
		}
		return in.MediaRef, ""
	case domain.FieldAttachDocument:
		if !in.HasMedia() {
			return "", "a document attachment is required"
		}
		return in.MediaRef, ""
	}

	if text == "" {
		if field.Optional {
			return "", ""
		}
		return "", "a reply is required"
	}

	switch stageOf(field) {
	case domain.FieldNumber:
		n, ok := ParseNumber(text)
		if !ok {
			return "", "a number is required"
		}
		text = strconv.FormatFloat(n, 'f', -1, 64)
	case domain.FieldEmail:
		addr, err := mail.ParseAddress(text)
		if err != nil {
			return "", "a valid e-mail address is required"
		}
		text = addr.Address
	}

	if field.Pattern != "" {
		re, err := regexp.Compile(field.Pattern)
		if err != nil {
			return "", fmt.Sprintf("field pattern is invalid: %v", err)
		}
		if !re.MatchString(text) {
			return "", "the reply has an unexpected format"
		}
	}
	return text, ""
}

// ParseNumber accepts "1234.5", "1234,5" and "1.234,50" style numbers.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
