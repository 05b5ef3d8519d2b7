package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"omnicoder/internal/domain/ports/adapter"
)

// Compile-time checks
var (
	_ adapter.LLMClient        = (*MultiAdapter)(nil)
	_ adapter.TokenCounter     = (*MultiAdapter)(nil)
	_ adapter.CredentialSetter = (*MultiAdapter)(nil)
)

// MultiAdapter routes each call to a provider by model id.
type MultiAdapter struct {
	defaultProvider string
	byProvider      map[string]adapter.LLMClient
	modelToProvider map[string]string
	counter         adapter.TokenCounter
}

// NewMultiAdapter routes explicit model mappings first, then by model-name prefix, then to
// defaultProvider. counter is used for providers that cannot count tokens themselves.
func NewMultiAdapter(
	defaultProvider string,
	byProvider map[string]adapter.LLMClient,
	modelToProvider map[string]string,
	counter adapter.TokenCounter,
) *MultiAdapter {
	return &MultiAdapter{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
		counter:         counter,
	}
}

func (m *MultiAdapter) resolveProvider(model string) string {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p)
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "claude"):
		return providerAnthropic
	case strings.HasPrefix(l, "gemini"):
		return providerGemini
	case strings.HasPrefix(l, "gpt"), strings.HasPrefix(l, "o1"), strings.HasPrefix(l, "o3"), strings.HasPrefix(l, "o4"):
		return providerOpenAI
	default:
		return m.defaultProvider
	}
}

func (m *MultiAdapter) pick(model string) (string, adapter.LLMClient) {
	prov := m.resolveProvider(model)
	if a := m.byProvider[prov]; a != nil {
		return prov, a
	}
	if a := m.byProvider[m.defaultProvider]; a != nil {
		return m.defaultProvider, a
	}
	// last resort: first available, in name order
	names := make([]string, 0, len(m.byProvider))
	for name, a := range m.byProvider {
		if a != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return names[0], m.byProvider[names[0]]
}

func (m *MultiAdapter) Call(ctx context.Context, req adapter.LLMRequest) (*adapter.LLMResponse, error) {
	_, a := m.pick(req.Model)
	if a == nil {
		return nil, &adapter.FatalError{Provider: "multi", Message: fmt.Sprintf("no provider configured for model %q", req.Model)}
	}
	return a.Call(ctx, req)
}

func (m *MultiAdapter) CountTokens(ctx context.Context, model, system string, messages []adapter.Message) (int, error) {
	if _, a := m.pick(model); a != nil {
		if tc, ok := a.(adapter.TokenCounter); ok {
			if n, err := tc.CountTokens(ctx, model, system, messages); err == nil {
				return n, nil
			}
		}
	}
	if m.counter != nil {
		return m.counter.CountTokens(ctx, model, system, messages)
	}
	n := estimateTokens(system)
	for _, msg := range messages {
		n += estimateTokens(msg.Content)
	}
	return n, nil
}

// SetAPIKey rotates the credential of the default provider.
func (m *MultiAdapter) SetAPIKey(key string) {
	if cs, ok := m.byProvider[m.defaultProvider].(adapter.CredentialSetter); ok {
		cs.SetAPIKey(key)
	}
}
