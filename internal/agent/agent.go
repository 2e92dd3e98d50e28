// Package agent holds the read-only agent configuration surface the
// simulator consumes, normalized once at load time.
package agent

import (
	"encoding/json"
	"strings"

	"github.com/zulandar/rehearsal/internal/models"
)

// Connection strategies understood by the invite handshake.
const (
	StrategySilent     = "silent"
	StrategyWithIntro  = "with-intro"
	StrategyIcebreaker = "icebreaker"
)

// ChannelLinkedIn is the only channel with a connect/accept handshake.
const ChannelLinkedIn = "linkedin"

// Config is a normalized agent configuration.
type Config struct {
	ID                   string         `yaml:"id" json:"id"`
	Name                 string         `yaml:"name" json:"name"`
	Channel              string         `yaml:"channel" json:"channel,omitempty"`
	ConversationSteps    Steps          `yaml:"conversation_steps" json:"conversation_steps"`
	EscalationSentiments []string       `yaml:"escalation_sentiments" json:"escalation_sentiments,omitempty"`
	EscalationKeywords   string         `yaml:"escalation_keywords" json:"escalation_keywords,omitempty"`
	ConnectionStrategy   string         `yaml:"connection_strategy" json:"connection_strategy,omitempty"`
	InviteMessage        string         `yaml:"invite_message" json:"invite_message,omitempty"`
	InitialApproach      string         `yaml:"initial_approach" json:"initial_approach,omitempty"`
	InitialMessage       string         `yaml:"initial_message" json:"initial_message,omitempty"`
	PostAcceptMessage    string         `yaml:"post_accept_message" json:"post_accept_message,omitempty"`
	WorkflowEnabled      bool           `yaml:"workflow_enabled" json:"workflow_enabled"`
	WorkflowDefinition   map[string]any `yaml:"workflow_definition" json:"workflow_definition,omitempty"`
}

// HandshakeApplies reports whether the agent's channel uses the invite
// handshake. An unset channel is treated as LinkedIn.
func (c *Config) HandshakeApplies() bool {
	ch := strings.ToLower(strings.TrimSpace(c.Channel))
	return ch == "" || ch == ChannelLinkedIn
}

// Keywords splits the comma-separated escalation keyword list, trimming
// blanks and lower-casing each entry.
func (c *Config) Keywords() []string {
	return ParseKeywords(c.EscalationKeywords)
}

// ParseKeywords splits a comma-separated keyword list.
func ParseKeywords(list string) []string {
	var out []string
	for _, k := range strings.Split(list, ",") {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// FromModel converts a stored row into a Config. Malformed list columns
// become empty lists.
func FromModel(m models.Agent) *Config {
	steps, _ := ParseSteps([]byte(m.ConversationSteps))
	cfg := &Config{
		ID:                   m.ID,
		Name:                 m.Name,
		Channel:              m.Channel,
		ConversationSteps:    steps,
		EscalationSentiments: parseStringList(m.EscalationSentiments),
		EscalationKeywords:   m.EscalationKeywords,
		ConnectionStrategy:   m.ConnectionStrategy,
		InviteMessage:        m.InviteMessage,
		InitialApproach:      m.InitialApproach,
		InitialMessage:       m.InitialMessage,
		PostAcceptMessage:    m.PostAcceptMessage,
		WorkflowEnabled:      m.WorkflowEnabled,
	}
	if m.WorkflowDefinition != "" {
		var def map[string]any
		if err := json.Unmarshal([]byte(m.WorkflowDefinition), &def); err == nil {
			cfg.WorkflowDefinition = def
		}
	}
	return cfg
}

// ToModel converts a Config into a storable row.
func (c *Config) ToModel() models.Agent {
	steps := c.ConversationSteps
	if steps == nil {
		steps = Steps{}
	}
	stepsJSON, _ := json.Marshal(steps)
	sentiments := c.EscalationSentiments
	if sentiments == nil {
		sentiments = []string{}
	}
	sentimentsJSON, _ := json.Marshal(sentiments)
	var def string
	if c.WorkflowDefinition != nil {
		b, _ := json.Marshal(c.WorkflowDefinition)
		def = string(b)
	}
	return models.Agent{
		ID:                   c.ID,
		Name:                 c.Name,
		Channel:              c.Channel,
		ConversationSteps:    string(stepsJSON),
		EscalationSentiments: string(sentimentsJSON),
		EscalationKeywords:   c.EscalationKeywords,
		ConnectionStrategy:   c.ConnectionStrategy,
		InviteMessage:        c.InviteMessage,
		InitialApproach:      c.InitialApproach,
		InitialMessage:       c.InitialMessage,
		PostAcceptMessage:    c.PostAcceptMessage,
		WorkflowEnabled:      c.WorkflowEnabled,
		WorkflowDefinition:   def,
	}
}

// parseStringList decodes a JSON array of strings, also accepting the
// double-encoded form.
func parseStringList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), &list); err == nil {
			return list
		}
	}
	return nil
}
