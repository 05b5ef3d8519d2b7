package ai

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"omnicoder/internal/domain/ports/adapter"
)

// Compile-time checks
var (
	_ adapter.LLMClient    = (*GeminiAdapter)(nil)
	_ adapter.TokenCounter = (*GeminiAdapter)(nil)
)

type GeminiAdapter struct {
	client    *genai.Client
	maxTokens int
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL string, maxTokens int) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &GeminiAdapter{client: c, maxTokens: maxTokens}, nil
}

func (g *GeminiAdapter) Call(ctx context.Context, req adapter.LLMRequest) (resp *adapter.LLMResponse, err error) {
	start := time.Now()
	defer func() { observe(providerGemini, req.Model, resp, err, start) }()

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(maxTokens)}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	res, err := g.client.Models.GenerateContent(ctx, req.Model, toGenAIContents(req.Messages), cfg)
	if err != nil {
		return nil, classifyGemini(ctx, err)
	}

	out := &adapter.LLMResponse{
		Content: []adapter.ContentBlock{{Type: "text", Text: res.Text()}},
		Model:   req.Model,
	}
	if res.ModelVersion != "" {
		out.Model = res.ModelVersion
	}
	if res.UsageMetadata != nil {
		out.Usage.InputTokens = int(res.UsageMetadata.PromptTokenCount)
		out.Usage.OutputTokens = int(res.UsageMetadata.CandidatesTokenCount)
	}
	if len(res.Candidates) > 0 {
		out.StopReason = string(res.Candidates[0].FinishReason)
	}
	return out, nil
}

func (g *GeminiAdapter) CountTokens(ctx context.Context, model, system string, messages []adapter.Message) (int, error) {
	contents := toGenAIContents(messages)
	if system != "" {
		contents = append([]*genai.Content{genai.NewContentFromText(system, genai.RoleUser)}, contents...)
	}
	resp, err := g.client.Models.CountTokens(ctx, model, contents, nil)
	if err != nil {
		return 0, err
	}
	return int(resp.TotalTokens), nil
}

func toGenAIContents(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if r := strings.ToLower(m.Role); r == "assistant" || r == "model" {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func classifyGemini(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return adapter.ClassifyStatus(providerGemini, apiErr.Code, apiErr.Message)
	}
	return &adapter.TransientError{Provider: providerGemini, Message: err.Error(), Err: err}
}
