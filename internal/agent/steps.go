package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Step is one ordered stage of a scripted conversation plan.
type Step struct {
	Text         string `yaml:"text" json:"text"`
	IsEscalation bool   `yaml:"is_escalation" json:"is_escalation"`
}

// Steps is a conversation plan. It decodes every encoding agents have been
// stored with: a list of objects, a list of plain strings, or either of
// those serialized into a single JSON string. Anything unparsable decodes
// to an empty plan rather than failing.
type Steps []Step

// ParseSteps normalizes raw step data. The bool result is false when raw
// was present but malformed and an empty plan was substituted.
func ParseSteps(raw []byte) (Steps, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Steps{}, true
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return Steps{}, false
	}
	return stepsFromValue(v, 0)
}

// stepsFromValue walks a decoded JSON/YAML value. Strings are unwrapped at
// most once more, covering the double-encoded legacy column.
func stepsFromValue(v any, depth int) (Steps, bool) {
	switch val := v.(type) {
	case nil:
		return Steps{}, true
	case string:
		if depth > 0 {
			return Steps{}, false
		}
		s := strings.TrimSpace(val)
		if s == "" {
			return Steps{}, true
		}
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return Steps{}, false
		}
		return stepsFromValue(inner, depth+1)
	case []any:
		steps := make(Steps, 0, len(val))
		for _, item := range val {
			st, ok := stepFromValue(item)
			if !ok {
				return Steps{}, false
			}
			steps = append(steps, st)
		}
		return steps, true
	default:
		return Steps{}, false
	}
}

func stepFromValue(v any) (Step, bool) {
	switch item := v.(type) {
	case string:
		return Step{Text: item}, true
	case map[string]any:
		text, _ := item["text"].(string)
		esc, _ := item["is_escalation"].(bool)
		return Step{Text: text, IsEscalation: esc}, true
	default:
		return Step{}, false
	}
}

// UnmarshalJSON implements json.Unmarshaler. Malformed input yields an
// empty plan and no error.
func (s *Steps) UnmarshalJSON(data []byte) error {
	*s, _ = ParseSteps(data)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler with the same tolerance as
// UnmarshalJSON.
func (s *Steps) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		*s = Steps{}
		return nil
	}
	*s, _ = stepsFromValue(normalizeYAML(v), 0)
	return nil
}

// normalizeYAML converts yaml.v3 map types to map[string]any so the JSON
// walker can share the logic.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = normalizeYAML(x)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[fmt.Sprint(k)] = normalizeYAML(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = normalizeYAML(x)
		}
		return out
	default:
		return v
	}
}

// At returns the step at index i and whether it exists.
func (s Steps) At(i int) (Step, bool) {
	if i < 0 || i >= len(s) {
		return Step{}, false
	}
	return s[i], true
}
