// Package testutil provides test doubles for the llm package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/semreq/llm"
)

// MockCompleter is a thread-safe llm.Completer for tests. It records the
// messages of every call and returns the configured responses in sequence.
//
// Usage:
//
//	mock := &MockCompleter{
//	    Responses: []*llm.Response{
//	        {Content: `[{"dimension": "Timeliness", "value": "T+0"}]`, Model: "test-model"},
//	    },
//	}
//	oracle := llm.NewOracle(mock, "mock")
type MockCompleter struct {
	mu            sync.Mutex
	Responses     []*llm.Response // Responses to return in sequence
	Err           error           // Error to return (takes precedence over Responses)
	calls         [][]llm.Message
	responseIndex int
}

// Complete returns the next response, the last one once the sequence is
// exhausted, or Err when set.
func (m *MockCompleter) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]llm.Message(nil), messages...))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &llm.Response{Content: "", Model: "test-model"}, nil
	}

	resp := m.Responses[m.responseIndex]
	if m.responseIndex < len(m.Responses)-1 {
		m.responseIndex++
	}
	return resp, nil
}

// CallCount returns the number of Complete calls.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastMessages returns the messages of the most recent call.
func (m *MockCompleter) LastMessages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// Reset clears recorded calls and restarts the response sequence.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.responseIndex = 0
}
