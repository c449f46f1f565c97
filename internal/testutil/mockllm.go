// Package testutil provides test doubles and helpers shared by the
// package tests: a deterministic Genkit model, an SSE stream parser,
// and a plugin-free Genkit instance.
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockLLM is a deterministic Genkit model for tests. It matches the last
// user message against registered patterns and streams the corresponding
// response word by word, so callers exercise real multi-fragment streams.
//
// Thread-safe for concurrent use.
type MockLLM struct {
	mu        sync.Mutex
	responses []mockRule
	fallback  string
	failErr   error
	failLeft  int
	calls     []MockCall
}

type mockRule struct {
	pattern  string // substring match in the last user message
	response string
}

// MockCall records a single model invocation.
type MockCall struct {
	System      string // system instruction text
	UserMessage string // last user message text
	Messages    int    // conversation messages received, system excluded
	Response    string
}

// NewMockLLM creates a mock model with the given fallback response,
// returned when no pattern matches.
func NewMockLLM(fallback string) *MockLLM {
	return &MockLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair. Patterns are matched
// case-insensitively in registration order; first match wins.
func (m *MockLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// FailTimes makes the next n invocations return err before any response
// text is produced.
func (m *MockLLM) FailTimes(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLeft = n
	m.failErr = err
}

// Calls returns a copy of all recorded invocations.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]MockCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// LastCall returns the most recent invocation, failing the test if the
// model was never called.
func (m *MockLLM) LastCall(t *testing.T) MockCall {
	t.Helper()
	calls := m.Calls()
	if len(calls) == 0 {
		t.Fatal("mock model was never called")
	}
	return calls[len(calls)-1]
}

// Reset clears recorded calls, keeping registered responses.
func (m *MockLLM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Name is the model name the mock registers under.
const Name = "mock/test-model"

// RegisterModel registers the mock as a Genkit model and returns a
// reference to it.
func (m *MockLLM) RegisterModel(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, Name, &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockLLM) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var system, userText string
	conversation := 0
	for _, msg := range req.Messages {
		if msg.Role == ai.RoleSystem {
			system = msg.Text()
			continue
		}
		conversation++
		if msg.Role == ai.RoleUser {
			userText = msg.Text()
		}
	}

	m.mu.Lock()
	if m.failLeft > 0 {
		m.failLeft--
		err := m.failErr
		m.mu.Unlock()
		return nil, err
	}

	responseText := m.fallback
	lower := strings.ToLower(userText)
	for i := range m.responses {
		if strings.Contains(lower, m.responses[i].pattern) {
			responseText = m.responses[i].response
			break
		}
	}

	m.calls = append(m.calls, MockCall{
		System:      system,
		UserMessage: userText,
		Messages:    conversation,
		Response:    responseText,
	})
	m.mu.Unlock()

	if cb != nil {
		// SplitAfter keeps separators so the fragments concatenate back
		// to the full response.
		for _, fragment := range strings.SplitAfter(responseText, " ") {
			if fragment == "" {
				continue
			}
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(fragment)},
			}); err != nil {
				return nil, err
			}
		}
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(responseText)},
		},
	}, nil
}
