package simulator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/rehearsal/internal/agent"
	"github.com/zulandar/rehearsal/internal/escalation"
	"github.com/zulandar/rehearsal/internal/exchange"
	"github.com/zulandar/rehearsal/internal/invite"
	"github.com/zulandar/rehearsal/internal/wait"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderBot    Sender = "bot"
	SenderUser   Sender = "user"
	SenderSystem Sender = "system"
)

// Annotations are turn-level details attached to the last bot message a
// turn produced.
type Annotations struct {
	Intent           string             `json:"intent,omitempty"`
	Sentiment        string             `json:"sentiment,omitempty"`
	StepNumber       int                `json:"stepNumber,omitempty"` // 1-based
	StepIsEscalation bool               `json:"stepIsEscalation,omitempty"`
	ShouldEscalate   bool               `json:"shouldEscalate,omitempty"`
	MatchedKeywords  []string           `json:"matchedKeywords,omitempty"`
	EscalationInfo   *escalation.Reason `json:"escalationInfo,omitempty"` // set on the turn that latched
}

// Message is one entry of the conversation log. Messages are never
// modified after they are appended.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	NodeLabel      string       `json:"nodeLabel,omitempty"`
	NodeType       string       `json:"nodeType,omitempty"`
	IsInvite       bool         `json:"isInvite,omitempty"`
	IsPostAccept   bool         `json:"isPostAccept,omitempty"`
	IsError        bool         `json:"isError,omitempty"`
	WaitSkipped    bool         `json:"waitSkipped,omitempty"`
	KeywordTrigger string       `json:"keywordTrigger,omitempty"`
	Annotations    *Annotations `json:"annotations,omitempty"`
}

// Session is the complete simulator state. It is treated as a value: every
// change produces a new Session through the reducers below, and the
// orchestrator swaps it in whole.
type Session struct {
	ID         string           `json:"id"`
	AgentID    string           `json:"agentId"`
	Messages   []Message        `json:"messages"`
	Step       int              `json:"currentStep"`
	Escalation escalation.State `json:"escalation"`
	Invite     invite.Handshake `json:"invite"`
	Wait       *wait.Info       `json:"waitInfo"`
	Workflow   json.RawMessage  `json:"workflowState,omitempty"`
	Loading    bool             `json:"isLoading"`
	Version    uint64           `json:"version"`
}

// clone copies the parts of s that reducers may replace so the result
// shares nothing mutable with the original.
func (s Session) clone() Session {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	if s.Wait != nil {
		w := *s.Wait
		out.Wait = &w
	}
	if s.Workflow != nil {
		out.Workflow = append(json.RawMessage(nil), s.Workflow...)
	}
	return out
}

// lastTimestamp returns the timestamp of the newest message.
func (s Session) lastTimestamp() time.Time {
	if len(s.Messages) == 0 {
		return time.Time{}
	}
	return s.Messages[len(s.Messages)-1].Timestamp
}

// appendMessages stamps each message with an ID and a timestamp strictly
// after the previous message and returns the extended session.
func (s Session) appendMessages(now time.Time, msgs ...Message) Session {
	if len(msgs) == 0 {
		return s
	}
	out := make([]Message, len(s.Messages), len(s.Messages)+len(msgs))
	copy(out, s.Messages)
	last := s.lastTimestamp()
	for _, m := range msgs {
		ts := now
		if !ts.After(last) {
			ts = last.Add(time.Millisecond)
		}
		m.Timestamp = ts
		m.ID = fmt.Sprintf("%d-%d", ts.UnixMilli(), len(out))
		out = append(out, m)
		last = ts
	}
	s.Messages = out
	return s
}

// history maps the log to the service's sender-normalized shape. System
// notices are not part of the conversation and are left out.
func (s Session) history() []exchange.HistoryEntry {
	out := make([]exchange.HistoryEntry, 0, len(s.Messages))
	for _, m := range s.Messages {
		switch m.Sender {
		case SenderUser:
			out = append(out, exchange.HistoryEntry{SenderType: exchange.SenderLead, Content: m.Content})
		case SenderBot:
			out = append(out, exchange.HistoryEntry{SenderType: exchange.SenderAI, Content: m.Content})
		}
	}
	return out
}

// turnOutcome is the result of folding one service response into a session.
type turnOutcome struct {
	session Session
	latched *escalation.Reason
}

// applyTurn folds a service response into s: escalation rules, wait gate,
// workflow state, step index and the bot messages, all at once.
func applyTurn(s Session, resp *exchange.TurnResponse, policy escalation.Policy, localKeyword string, waitSkipped bool, now time.Time) turnOutcome {
	s = s.clone()

	turn := escalation.Turn{
		LocalKeyword:    localKeyword,
		Sentiment:       resp.Sentiment(),
		MatchedKeywords: resp.MatchedKeywords,
		PrevStep:        s.Step,
		NewStep:         resp.CurrentStep,
		StepAdvanced:    resp.StepAdvanced,
		ShouldEscalate:  resp.ShouldEscalate(),
		Reasons:         resp.Reasons(),
	}
	before := s.Escalation
	s.Escalation = s.Escalation.Apply(escalation.Rules, policy, turn)
	var latched *escalation.Reason
	if !before.Triggered && s.Escalation.Triggered {
		r := *s.Escalation.Reason
		latched = &r
	}

	s.Wait = resp.Wait()
	if len(resp.WorkflowState) > 0 && string(resp.WorkflowState) != "null" {
		s.Workflow = resp.WorkflowState
	}

	ann := &Annotations{
		Intent:          resp.Intent,
		Sentiment:       resp.Sentiment(),
		ShouldEscalate:  resp.ShouldEscalate(),
		MatchedKeywords: resp.MatchedKeywords,
		EscalationInfo:  latched,
	}
	if resp.CurrentStep != nil && *resp.CurrentStep >= 0 {
		s.Step = *resp.CurrentStep
		ann.StepNumber = s.Step + 1
		st, _ := policy.Steps.At(s.Step)
		ann.StepIsEscalation = st.IsEscalation
	}

	subs := resp.Messages()
	msgs := make([]Message, 0, len(subs))
	for i, sub := range subs {
		m := Message{
			Sender:      SenderBot,
			Content:     sub.Message,
			NodeLabel:   sub.NodeLabel,
			NodeType:    sub.Type,
			WaitSkipped: waitSkipped,
		}
		if i == len(subs)-1 {
			m.Annotations = ann
		}
		msgs = append(msgs, m)
	}
	s = s.appendMessages(now, msgs...)
	return turnOutcome{session: s, latched: latched}
}

// initialWorkflow is the workflow token a fresh session starts with.
func initialWorkflow(cfg *agent.Config) json.RawMessage {
	if !cfg.WorkflowEnabled || cfg.WorkflowDefinition == nil {
		return nil
	}
	return json.RawMessage(`{"current_node_id":null,"variables":{},"step_history":[],"status":"initialized"}`)
}
