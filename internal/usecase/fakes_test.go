package usecase

import (
	"context"
	"errors"
	"sync"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
)

// mockLLM answers per system prompt from a script; the last reply for a prompt repeats.
type mockLLM struct {
	mu       sync.Mutex
	CallFunc func(ctx context.Context, req adapter.LLMRequest) (*adapter.LLMResponse, error)
	script   map[string][]reply
	calls    []adapter.LLMRequest
}

type reply struct {
	text string
	err  error
}

func newMockLLM() *mockLLM {
	return &mockLLM{script: map[string][]reply{}}
}

func (m *mockLLM) on(system string, replies ...reply) *mockLLM {
	m.script[system] = append(m.script[system], replies...)
	return m
}

func (m *mockLLM) Call(ctx context.Context, req adapter.LLMRequest) (*adapter.LLMResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fn := m.CallFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.script[req.System]
	if len(queue) == 0 {
		return nil, errors.New("mockLLM: no reply scripted")
	}
	r := queue[0]
	if len(queue) > 1 {
		m.script[req.System] = queue[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return textResponse(r.text, req.Model), nil
}

func (m *mockLLM) callsFor(system string) []adapter.LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []adapter.LLMRequest
	for _, c := range m.calls {
		if c.System == system {
			out = append(out, c)
		}
	}
	return out
}

func textResponse(text, modelID string) *adapter.LLMResponse {
	return &adapter.LLMResponse{
		Content: []adapter.ContentBlock{{Type: "text", Text: text}},
		Usage:   adapter.Usage{InputTokens: 1200, OutputTokens: 300},
		Model:   modelID,
	}
}

func says(text string) reply { return reply{text: text} }
func errs(err error) reply { return reply{err: err} }

// mockAgent is a scripted bridge agent.
type mockAgent struct {
	ExecuteFunc func(ctx context.Context, req adapter.AgentRequest) (*adapter.AgentResult, error)
}

func (m *mockAgent) Execute(ctx context.Context, req adapter.AgentRequest) (*adapter.AgentResult, error) {
	return m.ExecuteFunc(ctx, req)
}

// mockNotifier records finished tasks.
type mockNotifier struct {
	mu       sync.Mutex
	finished []string
}

func (m *mockNotifier) TaskCreated(context.Context, *model.Task) error { return nil }

func (m *mockNotifier) TaskFinished(_ context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, t.ID+":"+string(t.Status))
	return nil
}
