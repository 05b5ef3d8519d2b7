package telegram

import (
	"context"
	"fmt"
	"strings"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
)

func (b *Bot) TaskCreated(ctx context.Context, t *model.Task) error {
	text := fmt.Sprintf("🆕 New task %s (%s, %s)\n\n%s", t.ID, t.Type, t.Priority, excerpt(t.Input.UserMessage, 300))
	var rows [][]adapter.InlineButton
	if t.Status == model.TaskStatusPending {
		rows = append(rows, []adapter.InlineButton{
			{Text: "✅ Approve", Data: cbApprove + t.ID},
			{Text: "⏭ Skip", Data: cbSkip + t.ID},
		})
	}
	rows = append(rows, []adapter.InlineButton{{Text: "✖️ Cancel", Data: cbCancel + t.ID}})
	return b.SendButtons(ctx, b.chatID, text, rows)
}

func (b *Bot) TaskFinished(ctx context.Context, t *model.Task) error {
	switch t.Status {
	case model.TaskStatusCompleted:
		return b.SendMessage(ctx, b.chatID, completedText(t))
	case model.TaskStatusFailed:
		reason := "unknown error"
		if t.Error != nil {
			reason = *t.Error
		}
		text := fmt.Sprintf("❌ Task %s failed after %d attempts: %s", t.ID, t.RetryCount, excerpt(reason, 300))
		return b.SendButtons(ctx, b.chatID, text, [][]adapter.InlineButton{
			{{Text: "🔁 Retry", Data: cbRetry + t.ID}},
		})
	case model.TaskStatusSkipped:
		return b.SendMessage(ctx, b.chatID, fmt.Sprintf("⏭ Task %s skipped.", t.ID))
	}
	return nil
}

func completedText(t *model.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ Task %s completed", t.ID)
	out := t.Output
	if out == nil {
		return sb.String()
	}
	if out.Summary != "" {
		fmt.Fprintf(&sb, "\n%s", excerpt(out.Summary, 500))
	}
	fmt.Fprintf(&sb, "\nFiles: %d · Cost: $%.4f · Model: %s", len(out.Files), out.Cost, out.Model)
	for i, f := range out.Files {
		if i == maxListed {
			sb.WriteString("\n…")
			break
		}
		fmt.Fprintf(&sb, "\n• %s (%s)", f.Path, f.Action)
	}
	if out.Questions != nil && *out.Questions != "" {
		fmt.Fprintf(&sb, "\nQuestions: %s", excerpt(*out.Questions, 300))
	}
	return sb.String()
}
