package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omnicoder/internal/domain/model"
)

type commandHandler func(ctx context.Context, message *tgbotapi.Message) error

const maxListed = 10

func (b *Bot) commandRoutes() map[string]commandHandler {
	return map[string]commandHandler{
		"start":   b.handleHelpCommand,
		"help":    b.handleHelpCommand,
		"status":  b.handleStatusCommand,
		"queue":   b.handleQueueCommand,
		"mode":    b.handleModeCommand,
		"approve": b.idCommand(b.approveCBRoute),
		"skip":    b.idCommand(b.skipCBRoute),
		"cancel":  b.idCommand(b.cancelCBRoute),
		"retry":   b.idCommand(b.retryCBRoute),
	}
}

func (b *Bot) handleHelpCommand(ctx context.Context, m *tgbotapi.Message) error {
	return b.SendMessage(ctx, m.Chat.ID, strings.Join([]string{
		"Commands:",
		"/status - queue counters",
		"/queue - open tasks",
		"/mode <manual|semi_auto|full_auto> - execution mode",
		"/approve <id>, /skip <id>, /cancel <id>, /retry <id>",
	}, "\n"))
}

func (b *Bot) handleStatusCommand(ctx context.Context, m *tgbotapi.Message) error {
	s, err := b.ctrl.Stats(ctx)
	if err != nil {
		_ = b.SendMessage(ctx, m.Chat.ID, "Failed to get status.")
		return err
	}
	return b.SendMessage(ctx, m.Chat.ID, fmt.Sprintf(
		"Tasks: %d\nPending: %d\nRunning: %d\nCompleted: %d\nFailed: %d\nSkipped: %d",
		s.Total, s.Pending, s.Running, s.Completed, s.Failed, s.Skipped))
}

func (b *Bot) handleQueueCommand(ctx context.Context, m *tgbotapi.Message) error {
	tasks, err := b.ctrl.ListTasks(ctx)
	if err != nil {
		_ = b.SendMessage(ctx, m.Chat.ID, "Failed to list tasks.")
		return err
	}
	var lines []string
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		if len(lines) == maxListed {
			lines = append(lines, "…")
			break
		}
		lines = append(lines, fmt.Sprintf("%s [%s, %s] %s", t.ID, t.Status, t.Priority, excerpt(t.Input.UserMessage, 60)))
	}
	if len(lines) == 0 {
		return b.SendMessage(ctx, m.Chat.ID, "No open tasks.")
	}
	return b.SendMessage(ctx, m.Chat.ID, strings.Join(lines, "\n"))
}

func (b *Bot) handleModeCommand(ctx context.Context, m *tgbotapi.Message) error {
	mode := model.ExecutionMode(strings.TrimSpace(m.CommandArguments()))
	if !mode.Valid() {
		return b.SendMessage(ctx, m.Chat.ID, "Usage: /mode <manual|semi_auto|full_auto>")
	}
	s, err := b.ctrl.SetExecutionMode(ctx, mode)
	if err != nil {
		_ = b.SendMessage(ctx, m.Chat.ID, "Failed to change mode.")
		return err
	}
	return b.SendMessage(ctx, m.Chat.ID, "Execution mode: "+string(s.ExecutionMode))
}

// idCommand adapts a button action to a "/verb <id>" command.
func (b *Bot) idCommand(fn cbHandler) commandHandler {
	return func(ctx context.Context, m *tgbotapi.Message) error {
		id := strings.TrimSpace(m.CommandArguments())
		if id == "" {
			return b.SendMessage(ctx, m.Chat.ID, fmt.Sprintf("Usage: /%s <task_id>", m.Command()))
		}
		text, err := fn(ctx, id)
		if sendErr := b.SendMessage(ctx, m.Chat.ID, text); sendErr != nil {
			return sendErr
		}
		return err
	}
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
