package adapter

import "context"

// AgentRequest carries the instruction text forwarded verbatim to an external coding agent.
type AgentRequest struct {
	TaskID            string
	UserMessage       string
	AssistantResponse string
}

type AgentResult struct {
	Success bool
	Output  string
	Error   string
	// Files maps changed paths (relative to the agent workdir) to their new content.
	Files map[string]string
}

// CodingAgent is the bridge-mode executor.
type CodingAgent interface {
	Execute(ctx context.Context, req AgentRequest) (*AgentResult, error)
}
