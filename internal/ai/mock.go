package ai

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is the default error returned by MockCaller failures.
var ErrInjected = errors.New("ai: injected failure")

// CallLogEntry records one call made to a MockCaller.
type CallLogEntry struct {
	Action  string
	Payload map[string]interface{}
}

// MockCaller is a deterministic Caller for unit tests.
type MockCaller struct {
	mu        sync.Mutex
	responses map[string]Result
	CallLog   []CallLogEntry
	failNext  int
	failErr   error

	// Gate, when set, blocks every call until it is closed or the context ends.
	Gate chan struct{}
}

// NewMockCaller creates a mock with no canned responses.
func NewMockCaller() *MockCaller {
	return &MockCaller{responses: make(map[string]Result)}
}

// Respond sets the result returned for action.
func (m *MockCaller) Respond(action string, r Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[action] = r
}

// FailNext makes the next n calls fail with err (ErrInjected if nil).
func (m *MockCaller) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// CallsMade returns the number of calls for action.
func (m *MockCaller) CallsMade(action string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if c.Action == action {
			n++
		}
	}
	return n
}

// Call implements Caller. Actions with no canned response return ErrMalformedResponse.
func (m *MockCaller) Call(ctx context.Context, action string, payload map[string]interface{}) (Result, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, CallLogEntry{Action: action, Payload: payload})
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		if m.failErr != nil {
			return nil, m.failErr
		}
		return nil, ErrInjected
	}
	r, ok := m.responses[action]
	if !ok {
		return nil, ErrMalformedResponse
	}
	out := make(Result, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out, nil
}
