package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/ports/adapter"
)

// Compile-time checks
var (
	_ adapter.LLMClient        = (*AnthropicAdapter)(nil)
	_ adapter.CredentialSetter = (*AnthropicAdapter)(nil)
)

const (
	anthropicVersion    = "2023-06-01"
	defaultAnthropicURL = "https://api.anthropic.com/v1"
	defaultMaxTokens    = 8000
)

// AnthropicAdapter calls the Messages API over plain HTTP.
type AnthropicAdapter struct {
	mu        sync.RWMutex
	apiKey    string
	base      string
	maxTokens int
	client    *http.Client
}

func NewAnthropicAdapter(apiKey, baseURL string, maxTokens int, timeout time.Duration) *AnthropicAdapter {
	if baseURL == "" {
		baseURL = defaultAnthropicURL
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicAdapter{
		apiKey:    apiKey,
		base:      strings.TrimRight(baseURL, "/"),
		maxTokens: maxTokens,
		client:    &http.Client{Timeout: timeout},
	}
}

func (a *AnthropicAdapter) SetAPIKey(key string) {
	a.mu.Lock()
	a.apiKey = key
	a.mu.Unlock()
}

func (a *AnthropicAdapter) key() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.apiKey
}

type anthropicRequest struct {
	Model     string            `json:"model"`
	MaxTokens int               `json:"max_tokens"`
	System    string            `json:"system,omitempty"`
	Messages  []adapter.Message `json:"messages"`
}

type anthropicResponse struct {
	Content []adapter.ContentBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *AnthropicAdapter) Call(ctx context.Context, req adapter.LLMRequest) (resp *adapter.LLMResponse, err error) {
	start := time.Now()
	defer func() { observe(providerAnthropic, req.Model, resp, err, start) }()

	key := a.key()
	if key == "" {
		return nil, &adapter.FatalError{Provider: providerAnthropic, StatusCode: http.StatusUnauthorized, Message: domain.ErrCredentialsMissing.Error()}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  req.Messages,
	})
	if err != nil {
		return nil, &adapter.FatalError{Provider: providerAnthropic, Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &adapter.FatalError{Provider: providerAnthropic, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &adapter.TransientError{Provider: providerAnthropic, Message: err.Error(), Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &adapter.TransientError{Provider: providerAnthropic, StatusCode: httpResp.StatusCode, Message: err.Error(), Err: err}
	}
	if cerr := adapter.ClassifyStatus(providerAnthropic, httpResp.StatusCode, errorMessage(raw)); cerr != nil {
		return nil, cerr
	}

	var payload anthropicResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	return &adapter.LLMResponse{
		Content:    payload.Content,
		Usage:      adapter.Usage{InputTokens: payload.Usage.InputTokens, OutputTokens: payload.Usage.OutputTokens},
		Model:      payload.Model,
		StopReason: payload.StopReason,
	}, nil
}

func errorMessage(raw []byte) string {
	var e anthropicError
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
