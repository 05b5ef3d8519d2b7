package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"omnicoder/internal/domain/ports/adapter"
)

// Compile-time checks
var (
	_ adapter.LLMClient        = (*OpenAIAdapter)(nil)
	_ adapter.CredentialSetter = (*OpenAIAdapter)(nil)
)

// OpenAIAdapter serves OpenAI-compatible chat completion endpoints through the official SDK.
// SDK retries are disabled; RetryingClient owns the backoff policy.
type OpenAIAdapter struct {
	mu        sync.RWMutex
	client    openai.Client
	base      string
	timeout   time.Duration
	maxTokens int
}

func NewOpenAIAdapter(apiKey, baseURL string, maxTokens int, timeout time.Duration) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	o := &OpenAIAdapter{base: baseURL, timeout: timeout, maxTokens: maxTokens}
	o.client = o.newClient(apiKey)
	return o, nil
}

func (o *OpenAIAdapter) newClient(apiKey string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.base != "" {
		opts = append(opts, option.WithBaseURL(o.base))
	}
	if o.timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(o.timeout))
	}
	return openai.NewClient(opts...)
}

func (o *OpenAIAdapter) SetAPIKey(key string) {
	c := o.newClient(key)
	o.mu.Lock()
	o.client = c
	o.mu.Unlock()
}

func (o *OpenAIAdapter) Call(ctx context.Context, req adapter.LLMRequest) (resp *adapter.LLMResponse, err error) {
	start := time.Now()
	defer func() { observe(providerOpenAI, req.Model, resp, err, start) }()

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	o.mu.RLock()
	client := o.client
	o.mu.RUnlock()

	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Model),
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return nil, classifyOpenAI(ctx, err)
	}

	out := &adapter.LLMResponse{
		Model: completion.Model,
		Usage: adapter.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}
	for _, c := range completion.Choices {
		if c.Message.Content != "" {
			out.Content = append(out.Content, adapter.ContentBlock{Type: "text", Text: c.Message.Content})
			out.StopReason = string(c.FinishReason)
			break
		}
	}
	return out, nil
}

func classifyOpenAI(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return adapter.ClassifyStatus(providerOpenAI, apiErr.StatusCode, apiErr.Message)
	}
	return &adapter.TransientError{Provider: providerOpenAI, Message: err.Error(), Err: err}
}
