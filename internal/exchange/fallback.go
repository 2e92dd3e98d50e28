package exchange

import (
	"context"
	"errors"
	"fmt"
)

// Policy decides which primary errors are retried against the legacy
// service.
type Policy string

const (
	// FallbackAny retries on every primary error.
	FallbackAny Policy = "any"
	// FallbackUnsupported retries only when the primary reports the agent
	// or endpoint as unsupported.
	FallbackUnsupported Policy = "unsupported"
)

// ParsePolicy validates a policy name; empty selects FallbackAny.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", FallbackAny:
		return FallbackAny, nil
	case FallbackUnsupported:
		return FallbackUnsupported, nil
	}
	return "", fmt.Errorf("exchange: unknown fallback policy %q", s)
}

func (p Policy) allows(err error) bool {
	if p == FallbackUnsupported {
		return errors.Is(err, ErrUnsupported)
	}
	return true
}

// Fallback calls Primary and, when it fails and the policy allows, retries
// once against Secondary.
type Fallback struct {
	Primary   Exchange
	Secondary Exchange
	Policy    Policy
	// OnFallback, if set, is called before each retry.
	OnFallback func(op string, err error)
}

// Initial implements Exchange.
func (f *Fallback) Initial(ctx context.Context, agentID string, req InitialRequest) (*InitialResponse, error) {
	resp, err := f.Primary.Initial(ctx, agentID, req)
	if err == nil {
		return resp, nil
	}
	if !f.retry("initial", err) {
		return nil, err
	}
	resp, err2 := f.Secondary.Initial(ctx, agentID, req)
	if err2 != nil {
		return nil, fmt.Errorf("exchange: initial: primary: %v; legacy: %w", err, err2)
	}
	return resp, nil
}

// Respond implements Exchange.
func (f *Fallback) Respond(ctx context.Context, agentID string, req TurnRequest) (*TurnResponse, error) {
	resp, err := f.Primary.Respond(ctx, agentID, req)
	if err == nil {
		return resp, nil
	}
	if !f.retry("respond", err) {
		return nil, err
	}
	resp, err2 := f.Secondary.Respond(ctx, agentID, req)
	if err2 != nil {
		return nil, fmt.Errorf("exchange: respond: primary: %v; legacy: %w", err, err2)
	}
	return resp, nil
}

func (f *Fallback) retry(op string, err error) bool {
	if f.Secondary == nil || !f.Policy.allows(err) {
		return false
	}
	if f.OnFallback != nil {
		f.OnFallback(op, err)
	}
	return true
}
