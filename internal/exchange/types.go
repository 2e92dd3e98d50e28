// Package exchange talks to the agent-response service. Every operation has
// a primary (unified) and a legacy variant; Fallback tries them in order.
package exchange

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/zulandar/rehearsal/internal/msgtmpl"
	"github.com/zulandar/rehearsal/internal/wait"
)

// ContextPostAccept tags an inaugural request made after an invite was
// accepted and the operator chose to let the agent start.
const ContextPostAccept = "post_accept"

// Sender types used in conversation history.
const (
	SenderLead = "lead"
	SenderAI   = "ai"
)

// Exchange is an agent-response service.
type Exchange interface {
	// Initial requests an inaugural message.
	Initial(ctx context.Context, agentID string, req InitialRequest) (*InitialResponse, error)
	// Respond requests the agent's next turn.
	Respond(ctx context.Context, agentID string, req TurnRequest) (*TurnResponse, error)
}

// InitialRequest asks for an inaugural message.
type InitialRequest struct {
	LeadData msgtmpl.Lead `json:"lead_data"`
	Context  string       `json:"context,omitempty"`
}

// InitialResponse carries the inaugural message.
type InitialResponse struct {
	Message string `json:"message"`
}

// HistoryEntry is one message of conversation history in the service's
// sender-normalized shape.
type HistoryEntry struct {
	SenderType string `json:"sender_type"`
	Content    string `json:"content"`
}

// TurnRequest asks for the agent's next turn.
type TurnRequest struct {
	Message             string          `json:"message"`
	ConversationHistory []HistoryEntry  `json:"conversation_history"`
	LeadData            msgtmpl.Lead    `json:"lead_data"`
	CurrentStep         int             `json:"current_step"`
	WorkflowState       json.RawMessage `json:"workflow_state,omitempty"`
	SkipWait            bool            `json:"skip_wait,omitempty"`
}

// legacyTurnRequest is the narrower payload the legacy service accepts.
type legacyTurnRequest struct {
	Message             string         `json:"message"`
	ConversationHistory []HistoryEntry `json:"conversation_history"`
	LeadData            msgtmpl.Lead   `json:"lead_data"`
}

// SubResponse is one workflow node's message within a turn.
type SubResponse struct {
	Message   string `json:"message"`
	NodeLabel string `json:"nodeLabel,omitempty"`
	Type      string `json:"type,omitempty"`
}

// WaitReport is the service's wait action report.
type WaitReport struct {
	IsWaitAction bool      `json:"isWaitAction"`
	WaitTime     float64   `json:"waitTime"`
	WaitUnit     wait.Unit `json:"waitUnit"`
}

// TurnResponse is the raw turn payload. Several fields have two accepted
// spellings; use the accessor methods instead of reading them directly.
type TurnResponse struct {
	Response          string          `json:"response,omitempty"`
	AllResponses      []SubResponse   `json:"allResponses,omitempty"`
	CurrentStep       *int            `json:"currentStep,omitempty"`
	StepAdvanced      bool            `json:"stepAdvanced,omitempty"`
	ShouldEscalateRaw bool            `json:"shouldEscalate,omitempty"`
	EscalationRaw     bool            `json:"escalation,omitempty"`
	EscalationReasons []string        `json:"escalationReasons,omitempty"`
	EscalationReason  string          `json:"escalationReason,omitempty"`
	SentimentRaw      string          `json:"sentiment,omitempty"`
	DetectedSentiment string          `json:"detectedSentiment,omitempty"`
	MatchedKeywords   []string        `json:"matchedKeywords,omitempty"`
	WorkflowState     json.RawMessage `json:"workflowState,omitempty"`
	WaitInfo          *WaitReport     `json:"waitInfo,omitempty"`
	Intent            string          `json:"intent,omitempty"`
}

// ShouldEscalate reports either spelling of the handoff flag.
func (r *TurnResponse) ShouldEscalate() bool {
	return r.ShouldEscalateRaw || r.EscalationRaw
}

// Reasons returns the handoff reasons, preferring the list form.
func (r *TurnResponse) Reasons() []string {
	if len(r.EscalationReasons) > 0 {
		return r.EscalationReasons
	}
	if strings.TrimSpace(r.EscalationReason) != "" {
		return []string{r.EscalationReason}
	}
	return nil
}

// Sentiment returns either spelling of the detected sentiment.
func (r *TurnResponse) Sentiment() string {
	if r.SentimentRaw != "" {
		return r.SentimentRaw
	}
	return r.DetectedSentiment
}

// Messages flattens the turn into the ordered messages to display. When
// the service reports more than one sub-response they are used as-is;
// otherwise the single response text is used, falling back to a lone
// sub-response.
func (r *TurnResponse) Messages() []SubResponse {
	if len(r.AllResponses) > 1 {
		return r.AllResponses
	}
	if r.Response != "" {
		out := SubResponse{Message: r.Response}
		if len(r.AllResponses) == 1 {
			out.NodeLabel = r.AllResponses[0].NodeLabel
			out.Type = r.AllResponses[0].Type
		}
		return []SubResponse{out}
	}
	if len(r.AllResponses) == 1 && r.AllResponses[0].Message != "" {
		return r.AllResponses
	}
	return nil
}

// Wait returns the wait gate implied by the turn.
func (r *TurnResponse) Wait() *wait.Info {
	if r.WaitInfo == nil {
		return nil
	}
	return wait.Next(r.WaitInfo.IsWaitAction, wait.Info{Time: r.WaitInfo.WaitTime, Unit: r.WaitInfo.WaitUnit})
}
