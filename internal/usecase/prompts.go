package usecase

import (
	"fmt"
	"sort"
	"strings"
)

// System instructions for each pipeline role. Each one pins the JSON shape parsed in payload.go.
const (
	AuthorSystemPrompt = `You are a senior full-stack developer. Given a user request and an architect's design, produce working code.
Respond ONLY with a JSON object:
{
  "summary": "brief description",
  "is_coding_task": true/false,
  "files": [{ "path": "...", "content": "...", "action": "create|modify|delete", "language": "..." }],
  "commands": ["npm install ...", ...],
  "git_message": "feat: ...",
  "questions": "any clarification needed or null"
}`

	ReviewerSystemPrompt = `You are a code reviewer. Analyze the provided code for bugs, security issues, and best practices.
Respond ONLY with JSON:
{
  "score": 0-100,
  "passed": true/false,
  "issues": [{ "severity": "critical|major|minor", "file": "...", "line": 0, "description": "...", "fix": "..." }],
  "summary": "..."
}
Score >= 70 means passed = true.`

	TesterSystemPrompt = `You are a QA engineer. Write unit test files for the provided code using the project's test framework (vitest for TypeScript).
Respond ONLY with JSON:
{
  "test_files": [{ "path": "...", "content": "...", "covers": ["file1.ts", "file2.ts"] }],
  "summary": "..."
}`

	FixerSystemPrompt = `You are a debugging expert. Given code and error list, fix all issues.
Respond ONLY with JSON:
{
  "root_cause": "...",
  "files": [{ "path": "...", "content": "...", "action": "modify" }],
  "changes_made": "...",
  "git_message": "fix: ..."
}`

	SelfTestSystemPrompt = "Reply OK."
)

// formatFiles renders files as "--- path ---\ncontent" blocks in path order.
func formatFiles(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	blocks := make([]string, 0, len(paths))
	for _, p := range paths {
		blocks = append(blocks, fmt.Sprintf("--- %s ---\n%s", p, files[p]))
	}
	return strings.Join(blocks, "\n\n")
}

func BuildAuthorPrompt(userMessage, design string, files map[string]string) string {
	list := formatFiles(files)
	if list == "" {
		list = "(none)"
	}
	return fmt.Sprintf(`## User request
%s

## Architect design
%s

## Existing files
%s

Implement the design above. Respond with JSON only.`, userMessage, design, list)
}

func BuildReviewerPrompt(files map[string]string) string {
	return "Review the following code:\n\n" + formatFiles(files)
}

func BuildTesterPrompt(files map[string]string) string {
	return "Write tests for the following code:\n\n" + formatFiles(files)
}

func BuildFixerPrompt(files map[string]string, defects []string) string {
	var b strings.Builder
	for i, d := range defects {
		fmt.Fprintf(&b, "%d. %s\n", i+1, d)
	}
	return fmt.Sprintf(`## Errors
%s
## Current code
%s

Fix every error above.`, b.String(), formatFiles(files))
}

// appendReviewIssues folds review feedback into the design context for the next Author pass.
func appendReviewIssues(design string, issues []ReviewIssue) string {
	lines := make([]string, 0, len(issues))
	for _, i := range issues {
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", i.Severity, i.File, i.Description))
	}
	return design + "\n\nReview issues:\n" + strings.Join(lines, "\n")
}
