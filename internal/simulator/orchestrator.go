// Package simulator drives one rehearsal conversation between an operator
// playing the lead and an AI agent reached through an exchange service.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/zulandar/rehearsal/internal/agent"
	"github.com/zulandar/rehearsal/internal/escalation"
	"github.com/zulandar/rehearsal/internal/exchange"
	"github.com/zulandar/rehearsal/internal/invite"
	"github.com/zulandar/rehearsal/internal/metrics"
	"github.com/zulandar/rehearsal/internal/msgtmpl"
	"github.com/zulandar/rehearsal/internal/wait"
)

var (
	// ErrBusy is returned when an operation is attempted while another is
	// still in flight. The session is left untouched.
	ErrBusy = errors.New("simulator: operation in flight")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("simulator: session closed")
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("simulator: empty message")
	// ErrWaitActive is returned by Send while the agent is waiting. The
	// wait must be skipped or the session reset first.
	ErrWaitActive = errors.New("simulator: agent is waiting; skip the wait first")
	// ErrNoWait is returned by SkipWait when no wait is active.
	ErrNoWait = errors.New("simulator: no active wait")
)

// Copy is the operator-facing text the simulator produces on its own.
type Copy struct {
	Error     string `yaml:"error"`
	Greeting  string `yaml:"greeting"`
	Rejected  string `yaml:"rejected"`
	SkipError string `yaml:"skip_error"`
	AIReason  string `yaml:"ai_reason"`
}

// DefaultCopy is used for any empty Copy field.
var DefaultCopy = Copy{
	Error:     "Desculpe, houve um erro ao processar sua mensagem. Tente novamente.",
	Greeting:  "Olá! Como posso ajudar?",
	Rejected:  "O lead recusou o convite de conexão.",
	SkipError: "Não foi possível pular a espera. Tente novamente.",
	AIReason:  escalation.DefaultAIReason,
}

func (c Copy) withDefaults() Copy {
	if c.Error == "" {
		c.Error = DefaultCopy.Error
	}
	if c.Greeting == "" {
		c.Greeting = DefaultCopy.Greeting
	}
	if c.Rejected == "" {
		c.Rejected = DefaultCopy.Rejected
	}
	if c.SkipError == "" {
		c.SkipError = DefaultCopy.SkipError
	}
	if c.AIReason == "" {
		c.AIReason = DefaultCopy.AIReason
	}
	return c
}

// Notifier is told when a session's escalation latch fires.
type Notifier interface {
	Notify(ctx context.Context, ev escalation.Event) error
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Agent    *agent.Config
	Lead     msgtmpl.Lead
	Exchange exchange.Exchange
	Copy     Copy
	Log      *logrus.Logger
	Metrics  *metrics.Metrics
	Notifier Notifier
	// SessionID defaults to a random UUID.
	SessionID string
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator owns a Session and serializes every operation on it. At
// most one operation runs at a time; a second one fails fast with ErrBusy.
type Orchestrator struct {
	id       string
	agent    *agent.Config
	lead     msgtmpl.Lead
	ex       exchange.Exchange
	copy     Copy
	policy   escalation.Policy
	log      *logrus.Entry
	metrics  *metrics.Metrics
	notifier Notifier
	clock    func() time.Time

	inFlight atomic.Bool
	closed   atomic.Bool

	mu      sync.RWMutex
	state   Session
	changed chan struct{}
}

// New creates an Orchestrator. The session is empty until Open is called.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Agent == nil {
		return nil, fmt.Errorf("simulator: agent is required")
	}
	if opts.Agent.ID == "" {
		return nil, fmt.Errorf("simulator: agent id is required")
	}
	if opts.Exchange == nil {
		return nil, fmt.Errorf("simulator: exchange is required")
	}
	id := opts.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cp := opts.Copy.withDefaults()
	policy := escalation.PolicyFor(opts.Agent)
	policy.AIReason = cp.AIReason

	return &Orchestrator{
		id:       id,
		agent:    opts.Agent,
		lead:     opts.Lead,
		ex:       opts.Exchange,
		copy:     cp,
		policy:   policy,
		log:      logger.WithFields(logrus.Fields{"session_id": id, "agent_id": opts.Agent.ID}),
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
		clock:    clock,
		state:    Session{ID: id, AgentID: opts.Agent.ID},
		changed:  make(chan struct{}),
	}, nil
}

// ID returns the session ID.
func (o *Orchestrator) ID() string { return o.id }

// Agent returns the agent configuration the session runs against.
func (o *Orchestrator) Agent() *agent.Config { return o.agent }

// Lead returns the simulated lead.
func (o *Orchestrator) Lead() msgtmpl.Lead { return o.lead }

// Busy reports whether an operation is in flight.
func (o *Orchestrator) Busy() bool { return o.inFlight.Load() }

// Closed reports whether Close has been called.
func (o *Orchestrator) Closed() bool { return o.closed.Load() }

// Snapshot returns a copy of the current session.
func (o *Orchestrator) Snapshot() Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.clone()
}

// Changed returns a channel that is closed on the next state change.
func (o *Orchestrator) Changed() <-chan struct{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.changed
}

// Close discards the session. In-flight work finishes but its results are
// dropped.
func (o *Orchestrator) Close() {
	if o.closed.Swap(true) {
		return
	}
	o.mu.Lock()
	o.state = Session{ID: o.state.ID, AgentID: o.state.AgentID, Version: o.state.Version + 1}
	close(o.changed)
	o.changed = make(chan struct{})
	o.mu.Unlock()
	o.log.Debug("session closed")
}

// commit replaces the session with fn's result. It is the only place state
// is written.
func (o *Orchestrator) commit(fn func(Session) Session) Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed.Load() {
		return o.state
	}
	next := fn(o.state.clone())
	next.Version = o.state.Version + 1
	o.state = next
	close(o.changed)
	o.changed = make(chan struct{})
	return next
}

// begin claims the single-flight slot.
func (o *Orchestrator) begin() error {
	if o.closed.Load() {
		return ErrClosed
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	o.commit(func(s Session) Session {
		s.Loading = true
		return s
	})
	return nil
}

func (o *Orchestrator) end() {
	o.commit(func(s Session) Session {
		s.Loading = false
		return s
	})
	o.inFlight.Store(false)
}

func (o *Orchestrator) expand(tmpl string) string {
	return msgtmpl.Expand(tmpl, o.lead)
}

// Open starts the conversation according to the agent's entry rules.
func (o *Orchestrator) Open(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()
	o.start(ctx)
	return nil
}

// Reset discards the conversation and starts it again from the entry
// rules.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()
	o.start(ctx)
	o.log.Info("session reset")
	return nil
}

func (o *Orchestrator) start(ctx context.Context) {
	h, entry := invite.Enter(o.agent)
	o.commit(func(s Session) Session {
		return Session{
			ID:       s.ID,
			AgentID:  s.AgentID,
			Invite:   h,
			Workflow: initialWorkflow(o.agent),
			Loading:  s.Loading,
		}
	})
	o.log.WithField("entry", entry.String()).Debug("session started")

	switch entry {
	case invite.EntrySilent:
		return
	case invite.EntryInvite:
		text := o.agent.InviteMessage
		if text == "" {
			text = o.agent.InitialApproach
		}
		if text == "" {
			return
		}
		o.appendBot(Message{Sender: SenderBot, Content: o.expand(text), IsInvite: true})
	default:
		o.appendBot(Message{Sender: SenderBot, Content: o.inaugural(ctx)})
	}
}

// inaugural asks the service for the first message and falls back to the
// agent's static copy when it cannot.
func (o *Orchestrator) inaugural(ctx context.Context) string {
	resp, err := o.initial(ctx, "initial", exchange.InitialRequest{LeadData: o.lead})
	if err == nil && strings.TrimSpace(resp.Message) != "" {
		return resp.Message
	}
	if err != nil {
		o.log.WithError(err).Warn("inaugural message unavailable, using static copy")
	}
	for _, tmpl := range []string{o.agent.InitialApproach, o.agent.InitialMessage} {
		if strings.TrimSpace(tmpl) != "" {
			return o.expand(tmpl)
		}
	}
	return o.copy.Greeting
}

func (o *Orchestrator) appendBot(m Message) Session {
	return o.commit(func(s Session) Session {
		return s.appendMessages(o.clock(), m)
	})
}

func (o *Orchestrator) appendError(text string) Session {
	return o.appendBot(Message{Sender: SenderBot, Content: text, IsError: true})
}

// Send delivers a lead message and folds the agent's reply into the
// session. A service failure is reported in the log as an error message,
// not as a returned error.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	snap := o.Snapshot()
	if err := snap.Invite.CanSend(); err != nil {
		return err
	}
	if snap.Wait != nil {
		return ErrWaitActive
	}

	kw := o.policy.ScanKeywords(text)
	history := snap.history()
	var latched *escalation.Reason
	s := o.commit(func(s Session) Session {
		s.Invite = s.Invite.ClearOptions()
		s = s.appendMessages(o.clock(), Message{Sender: SenderUser, Content: text, KeywordTrigger: kw})
		before := s.Escalation
		s.Escalation = s.Escalation.Apply(escalation.PreCall, o.policy, escalation.Turn{LocalKeyword: kw})
		if !before.Triggered && s.Escalation.Triggered {
			latched = s.Escalation.Reason
		}
		return s
	})
	o.escalated(ctx, latched, s.Step)

	resp, err := o.respond(ctx, "send", exchange.TurnRequest{
		Message:             text,
		ConversationHistory: history,
		LeadData:            o.lead,
		CurrentStep:         s.Step,
		WorkflowState:       s.Workflow,
	})
	if err != nil {
		o.log.WithError(err).Warn("turn failed")
		o.metrics.Turn("send", "error")
		o.appendError(o.copy.Error)
		return nil
	}
	o.metrics.Turn("send", "ok")
	o.fold(ctx, resp, kw, false, nil)
	return nil
}

// fold commits a turn response and reports a fresh escalation. A non-nil
// workflow replaces the session's token in the same commit, before the
// response's own token is applied.
func (o *Orchestrator) fold(ctx context.Context, resp *exchange.TurnResponse, kw string, skipped bool, workflow json.RawMessage) {
	var latched *escalation.Reason
	s := o.commit(func(s Session) Session {
		if workflow != nil {
			s.Workflow = workflow
		}
		out := applyTurn(s, resp, o.policy, kw, skipped, o.clock())
		latched = out.latched
		return out.session
	})
	o.escalated(ctx, latched, s.Step)
	if s.Wait != nil {
		o.log.WithField("wait", s.Wait.String()).Info("agent is waiting")
	}
}

func (o *Orchestrator) escalated(ctx context.Context, r *escalation.Reason, step int) {
	if r == nil {
		return
	}
	o.metrics.Escalation(string(r.Kind))
	o.log.WithFields(logrus.Fields{"kind": r.Kind, "value": r.Value}).Info("escalation triggered")
	if o.notifier == nil {
		return
	}
	ev := escalation.Event{
		SessionID: o.id,
		AgentID:   o.agent.ID,
		AgentName: o.agent.Name,
		LeadName:  o.lead.Name,
		Reason:    *r,
		Step:      step,
		At:        o.clock(),
	}
	if err := o.notifier.Notify(ctx, ev); err != nil {
		o.log.WithError(err).Warn("escalation notification failed")
	}
}

// AcceptInvite records the lead accepting the connection request.
func (o *Orchestrator) AcceptInvite(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()
	h, err := o.Snapshot().Invite.Accept()
	if err != nil {
		return err
	}
	o.commit(func(s Session) Session {
		s.Invite = h
		return s
	})
	o.log.Info("invite accepted")
	return nil
}

// RejectInvite records the lead declining the connection request. The
// conversation cannot continue afterwards.
func (o *Orchestrator) RejectInvite(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()
	h, err := o.Snapshot().Invite.Reject()
	if err != nil {
		return err
	}
	o.commit(func(s Session) Session {
		s.Invite = h
		return s.appendMessages(o.clock(), Message{Sender: SenderSystem, Content: o.copy.Rejected})
	})
	o.log.Info("invite rejected")
	return nil
}

// LetAgentStart resolves the accept options in favour of the agent, which
// posts its post-accept message.
func (o *Orchestrator) LetAgentStart(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()
	h, err := o.Snapshot().Invite.ChooseAgent()
	if err != nil {
		return err
	}
	o.commit(func(s Session) Session {
		s.Invite = h
		return s
	})

	if tmpl := o.agent.PostAcceptMessage; strings.TrimSpace(tmpl) != "" {
		o.appendBot(Message{Sender: SenderBot, Content: o.expand(tmpl), IsPostAccept: true})
		return nil
	}
	resp, err := o.initial(ctx, "post_accept", exchange.InitialRequest{LeadData: o.lead, Context: exchange.ContextPostAccept})
	if err == nil && strings.TrimSpace(resp.Message) == "" {
		err = fmt.Errorf("simulator: empty post-accept message")
	}
	if err != nil {
		o.log.WithError(err).Warn("post-accept message failed")
		o.metrics.Turn("post_accept", "error")
		o.appendError(o.copy.Error)
		return nil
	}
	o.metrics.Turn("post_accept", "ok")
	o.appendBot(Message{Sender: SenderBot, Content: resp.Message, IsPostAccept: true})
	return nil
}

// LetHumanStart resolves the accept options in favour of the lead, who
// types the first message.
func (o *Orchestrator) LetHumanStart(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()
	h, err := o.Snapshot().Invite.ChooseHuman()
	if err != nil {
		return err
	}
	o.commit(func(s Session) Session {
		s.Invite = h
		return s
	})
	return nil
}

// SkipWait resumes a waiting workflow immediately. If the service call
// fails the wait is restored and an error message is appended.
func (o *Orchestrator) SkipWait(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	defer o.end()

	snap := o.Snapshot()
	if snap.Wait == nil {
		return ErrNoWait
	}
	pending := *snap.Wait
	restore := func() {
		o.commit(func(s Session) Session {
			w := pending
			s.Wait = &w
			return s.appendMessages(o.clock(), Message{Sender: SenderBot, Content: o.copy.SkipError, IsError: true})
		})
		o.metrics.Turn("skip_wait", "error")
	}

	o.commit(func(s Session) Session {
		s.Wait = nil
		return s
	})

	forced, err := wait.ForceActive(snap.Workflow)
	if err != nil {
		o.log.WithError(err).Warn("cannot resume workflow state")
		restore()
		return nil
	}
	resp, err := o.respond(ctx, "skip_wait", exchange.TurnRequest{
		Message:             wait.SkipMarker,
		ConversationHistory: snap.history(),
		LeadData:            o.lead,
		CurrentStep:         snap.Step,
		WorkflowState:       forced,
		SkipWait:            true,
	})
	if err != nil {
		o.log.WithError(err).Warn("skip wait failed")
		restore()
		return nil
	}
	o.metrics.Turn("skip_wait", "ok")
	o.fold(ctx, resp, "", true, forced)
	return nil
}

func (o *Orchestrator) respond(ctx context.Context, op string, req exchange.TurnRequest) (*exchange.TurnResponse, error) {
	start := time.Now()
	resp, err := o.ex.Respond(ctx, o.agent.ID, req)
	o.metrics.ObserveExchange(op, time.Since(start).Seconds())
	if err == nil && resp == nil {
		err = fmt.Errorf("simulator: %s: empty response", op)
	}
	return resp, err
}

func (o *Orchestrator) initial(ctx context.Context, op string, req exchange.InitialRequest) (*exchange.InitialResponse, error) {
	start := time.Now()
	resp, err := o.ex.Initial(ctx, o.agent.ID, req)
	o.metrics.ObserveExchange(op, time.Since(start).Seconds())
	if err == nil && resp == nil {
		err = fmt.Errorf("simulator: %s: empty response", op)
	}
	return resp, err
}
