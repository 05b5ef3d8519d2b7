package adapter

import (
	"context"
	"errors"
	"fmt"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "user", "assistant"
	Content string `json:"content"`
}

// LLMRequest is one structured call against a model tier.
type LLMRequest struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int // 0 means provider default
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Usage for a single call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

type LLMResponse struct {
	Content    []ContentBlock
	Usage      Usage
	Model      string
	StopReason string
}

// Text joins every text block of the response.
func (r *LLMResponse) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, b := range r.Content {
		if b.Type == "" || b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// LLMClient is the port for model calls.
type LLMClient interface {
	Call(ctx context.Context, req LLMRequest) (*LLMResponse, error)
}

// TokenCounter estimates prompt tokens before a call is made.
type TokenCounter interface {
	CountTokens(ctx context.Context, model string, system string, messages []Message) (int, error)
}

// CredentialSetter is implemented by clients whose API key can rotate at runtime.
type CredentialSetter interface {
	SetAPIKey(key string)
}

// FatalError is never retried: bad credentials, malformed request.
type FatalError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// TransientError is retried with backoff: rate limits, overload, network failures.
type TransientError struct {
	Provider   string
	StatusCode int // 0 for network failures
	Message    string
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: transient error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: transient error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ErrRetriesExhausted wraps the last transient error once the retry budget is spent.
var ErrRetriesExhausted = errors.New("llm retries exhausted")

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ClassifyStatus maps an HTTP status to the error taxonomy. 2xx returns nil.
func ClassifyStatus(provider string, status int, msg string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429 || status == 529 || status >= 500:
		return &TransientError{Provider: provider, StatusCode: status, Message: msg}
	default:
		return &FatalError{Provider: provider, StatusCode: status, Message: msg}
	}
}
