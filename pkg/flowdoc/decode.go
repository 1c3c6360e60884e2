// Package flowdoc decodes hand-written flow documents (YAML files, loam
// frontmatter) into domain.Flow.
//
// Documents may omit what can be inferred:
//   - a flow or an action without "active" is active;
//   - a node without "type" is a menu when it has options, a form when it has
//     fields, a condition when it has branches, a prompt when it has save_to,
//     and a response otherwise.
package flowdoc

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/parley/pkg/domain"
)

// Decode turns a generic document into a flow. fallbackID is used when the
// document has no "id" (usually the file name).
func Decode(raw map[string]any, fallbackID string) (*domain.Flow, error) {
	raw = normalize(raw)

	var flow domain.Flow
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &flow,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
		TagName:          "mapstructure",
		DecodeHook:       durationSeconds,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode flow %s: %w", fallbackID, err)
	}

	if flow.ID == "" {
		flow.ID = TrimExtension(fallbackID)
	}
	if flow.ID == "" {
		return nil, fmt.Errorf("flow document has no id")
	}
	if created, ok := raw["created_at"]; ok {
		t, err := parseTime(created)
		if err != nil {
			return nil, fmt.Errorf("flow %s: created_at: %w", flow.ID, err)
		}
		flow.CreatedAt = t
	}
	return &flow, nil
}

// ParseYAML decodes one YAML flow document.
func ParseYAML(data []byte, fallbackID string) (*domain.Flow, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse flow %s: %w", fallbackID, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("flow %s: empty document", fallbackID)
	}
	return Decode(raw, fallbackID)
}

// TrimExtension strips the file extension and normalizes separators.
func TrimExtension(id string) string {
	return filepath.ToSlash(strings.TrimSuffix(id, filepath.Ext(id)))
}

func normalize(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	if _, ok := out["active"]; !ok {
		out["active"] = true
	}

	nodes, _ := out["nodes"].([]any)
	for i, n := range nodes {
		node, ok := asMap(n)
		if !ok {
			continue
		}
		if _, ok := node["type"]; !ok {
			node["type"] = string(inferType(node))
		}
		if actions, ok := node["actions"].([]any); ok {
			for j, a := range actions {
				if action, ok := asMap(a); ok {
					if _, ok := action["active"]; !ok {
						action["active"] = true
					}
					actions[j] = action
				}
			}
		}
		nodes[i] = node
	}
	return out
}

func inferType(node map[string]any) domain.NodeType {
	switch {
	case has(node, "options"):
		return domain.NodeMenu
	case has(node, "fields"):
		return domain.NodeForm
	case has(node, "branches"):
		return domain.NodeCondition
	case has(node, "save_to"):
		return domain.NodePrompt
	}
	return domain.NodeResponse
}

func has(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

// asMap accepts both map flavours YAML decoders produce.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// durationSeconds lets integer fields such as timeout be written as "2m".
func durationSeconds(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Int {
		return data, nil
	}
	s := strings.TrimSpace(reflect.ValueOf(data).String())
	if s == "" || !unicode.IsLetter(rune(s[len(s)-1])) {
		return data, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return data, nil
	}
	return int(d / time.Second), nil
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		if d, err := time.Parse(time.DateOnly, t); err == nil {
			return d, nil
		}
		return time.Parse(time.RFC3339, t)
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}
