package exchange

import (
	"context"
	"fmt"
	"sync"
)

// MockExchange implements Exchange for testing. Responses and errors are
// queued per operation and consumed in order; requests are recorded.
type MockExchange struct {
	mu           sync.Mutex
	initials     []mockInitial
	turns        []mockTurn
	initialCalls []InitialRequest
	turnCalls    []TurnRequest
	// Block, when non-nil, is received from before every call returns. A
	// call whose context ends first fails with the context's error, as a
	// real client would.
	Block chan struct{}
}

type mockInitial struct {
	resp *InitialResponse
	err  error
}

type mockTurn struct {
	resp *TurnResponse
	err  error
}

// NewMockExchange creates an empty MockExchange.
func NewMockExchange() *MockExchange {
	return &MockExchange{}
}

// QueueInitial queues the result of the next Initial call.
func (m *MockExchange) QueueInitial(resp *InitialResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initials = append(m.initials, mockInitial{resp, err})
}

// QueueTurn queues the result of the next Respond call.
func (m *MockExchange) QueueTurn(resp *TurnResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, mockTurn{resp, err})
}

// Initial implements Exchange.
func (m *MockExchange) Initial(ctx context.Context, agentID string, req InitialRequest) (*InitialResponse, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialCalls = append(m.initialCalls, req)
	if len(m.initials) == 0 {
		return nil, fmt.Errorf("mock exchange: no initial response queued")
	}
	next := m.initials[0]
	m.initials = m.initials[1:]
	return next.resp, next.err
}

// Respond implements Exchange.
func (m *MockExchange) Respond(ctx context.Context, agentID string, req TurnRequest) (*TurnResponse, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turnCalls = append(m.turnCalls, req)
	if len(m.turns) == 0 {
		return nil, fmt.Errorf("mock exchange: no turn response queued")
	}
	next := m.turns[0]
	m.turns = m.turns[1:]
	return next.resp, next.err
}

func (m *MockExchange) wait(ctx context.Context) error {
	if m.Block == nil {
		return nil
	}
	select {
	case <-m.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InitialCalls returns a copy of the recorded Initial requests.
func (m *MockExchange) InitialCalls() []InitialRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InitialRequest, len(m.initialCalls))
	copy(out, m.initialCalls)
	return out
}

// TurnCalls returns a copy of the recorded Respond requests.
func (m *MockExchange) TurnCalls() []TurnRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TurnRequest, len(m.turnCalls))
	copy(out, m.turnCalls)
	return out
}
