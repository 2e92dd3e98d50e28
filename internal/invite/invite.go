// Package invite models the connect-request handshake that gates whether
// the agent may speak before the lead has accepted a connection.
package invite

import (
	"errors"

	"github.com/zulandar/rehearsal/internal/agent"
)

// State is the handshake state.
type State string

const (
	StateNone     State = "none"
	StatePending  State = "pending"
	StateAccepted State = "accepted"
)

var (
	ErrNotPending  = errors.New("invite: no pending invite")
	ErrPending     = errors.New("invite: lead has not accepted the invite")
	ErrRejected    = errors.New("invite: lead rejected the invite")
	ErrNoChoice    = errors.New("invite: no accept options to choose from")
	ErrNotAccepted = errors.New("invite: connection not accepted")
)

// Entry says what the simulator does when it opens.
type Entry int

const (
	// EntryService asks the agent service for an inaugural message.
	EntryService Entry = iota
	// EntryInvite posts the configured invite text and waits for accept.
	EntryInvite
	// EntrySilent starts connected with an empty log; the operator picks
	// who speaks first.
	EntrySilent
)

func (e Entry) String() string {
	switch e {
	case EntryInvite:
		return "invite"
	case EntrySilent:
		return "silent"
	default:
		return "service"
	}
}

// Handshake is the invite state for one session. The zero value is a
// session with no handshake.
type Handshake struct {
	State State `json:"state"`
	// ShowAcceptOptions is set while the operator must choose between
	// speaking first and letting the agent start. Only meaningful while
	// accepted.
	ShowAcceptOptions bool `json:"show_accept_options"`
	// Rejected marks the dead end reached by Reject.
	Rejected bool `json:"rejected"`
}

// Enter picks the initial handshake for an agent.
func Enter(cfg *agent.Config) (Handshake, Entry) {
	if !cfg.HandshakeApplies() {
		return Handshake{State: StateNone}, EntryService
	}
	switch cfg.ConnectionStrategy {
	case agent.StrategySilent:
		return Handshake{State: StateAccepted, ShowAcceptOptions: true}, EntrySilent
	case agent.StrategyWithIntro, agent.StrategyIcebreaker:
		return Handshake{State: StatePending}, EntryInvite
	default:
		return Handshake{State: StateNone}, EntryService
	}
}

// Accept moves a pending invite to accepted and offers the accept options.
func (h Handshake) Accept() (Handshake, error) {
	if h.State != StatePending {
		return h, ErrNotPending
	}
	return Handshake{State: StateAccepted, ShowAcceptOptions: true}, nil
}

// Reject moves a pending invite back to none. The session is a dead end
// from then on: the lead does not re-engage.
func (h Handshake) Reject() (Handshake, error) {
	if h.State != StatePending {
		return h, ErrNotPending
	}
	return Handshake{State: StateNone, Rejected: true}, nil
}

// CanSend reports whether the lead may send a free-text message.
func (h Handshake) CanSend() error {
	switch {
	case h.Rejected:
		return ErrRejected
	case h.State == StatePending:
		return ErrPending
	}
	return nil
}

// ChooseAgent consumes the accept options in favour of the agent speaking
// first.
func (h Handshake) ChooseAgent() (Handshake, error) { return h.choose() }

// ChooseHuman consumes the accept options in favour of the lead typing
// first.
func (h Handshake) ChooseHuman() (Handshake, error) { return h.choose() }

func (h Handshake) choose() (Handshake, error) {
	if h.State != StateAccepted {
		return h, ErrNotAccepted
	}
	if !h.ShowAcceptOptions {
		return h, ErrNoChoice
	}
	h.ShowAcceptOptions = false
	return h, nil
}

// ClearOptions drops any pending accept-options prompt.
func (h Handshake) ClearOptions() Handshake {
	h.ShowAcceptOptions = false
	return h
}
