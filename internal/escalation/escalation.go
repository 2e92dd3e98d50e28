// Package escalation decides when a simulated conversation is handed off to
// a human. Rules are evaluated in a fixed order and the first one that
// matches wins; once a session has escalated the result is latched.
package escalation

import (
	"strings"
	"time"

	"github.com/zulandar/rehearsal/internal/agent"
)

// Kind identifies which rule triggered an escalation.
type Kind string

const (
	KindKeyword   Kind = "keyword"
	KindSentiment Kind = "sentiment"
	KindStep      Kind = "step"
	KindAI        Kind = "ai"
)

// DefaultAIReason is used when the service asks for a handoff without
// giving a reason.
const DefaultAIReason = "AI requested human handoff"

// Reason is the cause recorded when an escalation fires.
type Reason struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// State is a session's escalation latch.
type State struct {
	Triggered bool    `json:"triggered"`
	Reason    *Reason `json:"reason"`
}

// Latch records r unless the state has already been triggered. The first
// reason is kept for the life of the session.
func (s State) Latch(r *Reason) State {
	if s.Triggered || r == nil {
		return s
	}
	rc := *r
	return State{Triggered: true, Reason: &rc}
}

// Policy is the per-agent escalation configuration.
type Policy struct {
	Keywords   []string // lower-cased
	Sentiments []string
	Steps      agent.Steps
	// AIReason replaces DefaultAIReason when set.
	AIReason string
}

// PolicyFor builds a Policy from an agent configuration.
func PolicyFor(cfg *agent.Config) Policy {
	return Policy{
		Keywords:   cfg.Keywords(),
		Sentiments: cfg.EscalationSentiments,
		Steps:      cfg.ConversationSteps,
	}
}

// ScanKeywords returns the first configured keyword contained in text,
// compared case-insensitively, or "" when none is present.
func (p Policy) ScanKeywords(text string) string {
	if text == "" {
		return ""
	}
	lower := strings.ToLower(text)
	for _, k := range p.Keywords {
		if strings.Contains(lower, k) {
			return k
		}
	}
	return ""
}

// Turn holds everything the rules inspect for one exchange.
type Turn struct {
	// LocalKeyword is the result of ScanKeywords on the outgoing user
	// message, computed before the service is called.
	LocalKeyword string
	Sentiment    string
	// MatchedKeywords are keywords the service detected.
	MatchedKeywords []string
	// PrevStep is the step index before the turn; NewStep is the index the
	// service reported, nil when it reported none.
	PrevStep     int
	NewStep      *int
	StepAdvanced bool
	// ShouldEscalate is the service's explicit handoff flag.
	ShouldEscalate bool
	Reasons        []string
}

// AdvancedTo returns the step index the turn moved to, if it moved.
func (t Turn) AdvancedTo() (int, bool) {
	if t.NewStep == nil {
		return 0, false
	}
	if *t.NewStep != t.PrevStep || t.StepAdvanced {
		return *t.NewStep, true
	}
	return 0, false
}

// Rule is one escalation condition. Match returns nil when the rule does
// not apply.
type Rule struct {
	Name  string
	Match func(p Policy, t Turn) *Reason
}

// Rules is the evaluation order. PreCall holds the rules that only need the
// outgoing message and can run before the service responds.
var (
	PreCall = []Rule{keywordRule}
	Rules   = []Rule{keywordRule, sentimentRule, serviceKeywordRule, stepRule, aiRule}
)

var keywordRule = Rule{
	Name: "keyword",
	Match: func(_ Policy, t Turn) *Reason {
		if t.LocalKeyword == "" {
			return nil
		}
		return &Reason{Kind: KindKeyword, Value: t.LocalKeyword}
	},
}

var sentimentRule = Rule{
	Name: "sentiment",
	Match: func(p Policy, t Turn) *Reason {
		if t.Sentiment == "" {
			return nil
		}
		for _, s := range p.Sentiments {
			if strings.EqualFold(strings.TrimSpace(s), t.Sentiment) {
				return &Reason{Kind: KindSentiment, Value: t.Sentiment}
			}
		}
		return nil
	},
}

var serviceKeywordRule = Rule{
	Name: "service-keyword",
	Match: func(_ Policy, t Turn) *Reason {
		if t.LocalKeyword != "" || len(t.MatchedKeywords) == 0 {
			return nil
		}
		return &Reason{Kind: KindKeyword, Value: strings.Join(t.MatchedKeywords, ", ")}
	},
}

var stepRule = Rule{
	Name: "step",
	Match: func(p Policy, t Turn) *Reason {
		idx, ok := t.AdvancedTo()
		if !ok {
			return nil
		}
		st, ok := p.Steps.At(idx)
		if !ok || !st.IsEscalation {
			return nil
		}
		return &Reason{Kind: KindStep, Value: st.Text}
	},
}

var aiRule = Rule{
	Name: "ai",
	Match: func(p Policy, t Turn) *Reason {
		if !t.ShouldEscalate {
			return nil
		}
		var reasons []string
		for _, r := range t.Reasons {
			if r = strings.TrimSpace(r); r != "" {
				reasons = append(reasons, r)
			}
		}
		if len(reasons) > 0 {
			return &Reason{Kind: KindAI, Value: strings.Join(reasons, "; ")}
		}
		if p.AIReason != "" {
			return &Reason{Kind: KindAI, Value: p.AIReason}
		}
		return &Reason{Kind: KindAI, Value: DefaultAIReason}
	},
}

// Evaluate runs rules in order and returns the first match, or nil.
func Evaluate(rules []Rule, p Policy, t Turn) *Reason {
	for _, r := range rules {
		if reason := r.Match(p, t); reason != nil {
			return reason
		}
	}
	return nil
}

// Apply evaluates rules against the turn and latches the result into s.
// A state that has already triggered is returned unchanged without
// evaluating anything.
func (s State) Apply(rules []Rule, p Policy, t Turn) State {
	if s.Triggered {
		return s
	}
	return s.Latch(Evaluate(rules, p, t))
}

// Event describes the moment a session's latch fires, for notifiers.
type Event struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	LeadName  string    `json:"lead_name"`
	Reason    Reason    `json:"reason"`
	Step      int       `json:"step"`
	At        time.Time `json:"at"`
}
