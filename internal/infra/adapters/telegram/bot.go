package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"omnicoder/internal/config"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/infra/metrics"
	red "omnicoder/internal/infra/redis"
	"omnicoder/internal/usecase"
)

// Controller is the slice of the command surface the bot drives.
type Controller interface {
	Approve(ctx context.Context, id string) (*model.Task, error)
	Skip(ctx context.Context, id string) (*model.Task, error)
	Cancel(ctx context.Context, id string) (*model.Task, error)
	Requeue(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]*model.Task, error)
	Stats(ctx context.Context) (usecase.QueueStats, error)
	SetExecutionMode(ctx context.Context, mode model.ExecutionMode) (*model.Settings, error)
}

// botAPI is the part of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ adapter.Notifier = (*Bot)(nil)

const (
	actionLimit  = 20
	actionWindow = time.Minute
)

// Bot notifies the operator chat about tasks and turns its buttons and commands into queue actions.
// Updates from any other chat are ignored.
type Bot struct {
	api         botAPI
	chatID      int64
	rateLimiter *red.RateLimiter
	log         zerolog.Logger

	updateWorkers int
	ctrl          Controller
}

func NewBot(cfg *config.TelegramConfig, rateLimiter *red.RateLimiter, logger *zerolog.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, errors.New("telegram config is nil")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return newBot(api, cfg.ChatID, cfg.Workers, rateLimiter, logger), nil
}

func newBot(api botAPI, chatID int64, workers int, rateLimiter *red.RateLimiter, logger *zerolog.Logger) *Bot {
	if workers <= 0 {
		workers = 2
	}
	return &Bot{
		api:           api,
		chatID:        chatID,
		rateLimiter:   rateLimiter,
		log:           logger.With().Str("component", "telegram").Logger(),
		updateWorkers: workers,
	}
}

// Serve polls updates and dispatches them to ctrl until ctx is cancelled.
func (b *Bot) Serve(ctx context.Context, ctrl Controller) error {
	if ctrl == nil {
		return errors.New("telegram controller is nil")
	}
	b.ctrl = ctrl

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	updateChan := make(chan tgbotapi.Update, 100)

	for i := 0; i < b.updateWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case up, ok := <-updateChan:
					if !ok {
						return
					}
					if err := b.handleUpdate(ctx, up); err != nil {
						b.log.Warn().Err(err).Int("worker", workerID).Msg("update failed")
					}
				case <-ctx.Done():
					return
				}
			}
		}(i + 1)
	}

	go func() {
		defer close(updateChan)
		for {
			select {
			case up, ok := <-updates:
				if !ok {
					return
				}
				select {
				case updateChan <- up:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	<-ctx.Done()
	b.api.StopReceivingUpdates()
	wg.Wait()
	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return b.handleQuery(ctx, update.CallbackQuery)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return nil
	}
	action := "/" + msg.Command()
	if msg.Chat.ID != b.chatID {
		metrics.IncBotAction(action, "unauthorized")
		return nil
	}
	if !b.allow(ctx, action) {
		metrics.IncBotAction(action, "limited")
		return b.SendMessage(ctx, msg.Chat.ID, "Rate limit exceeded. Please try again later.")
	}
	fn, ok := b.commandRoutes()[msg.Command()]
	if !ok {
		return b.SendMessage(ctx, msg.Chat.ID, "Unknown command. Send /help for the list of commands.")
	}
	err := fn(ctx, msg)
	metrics.IncBotAction(action, outcome(err))
	return err
}

func (b *Bot) handleQuery(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if query.Message == nil || query.Message.Chat == nil {
		return errors.New("callback without message")
	}
	chatID := query.Message.Chat.ID
	answer := ""
	// stops the client spinner
	defer func() { _, _ = b.api.Request(tgbotapi.NewCallback(query.ID, answer)) }()

	if chatID != b.chatID {
		metrics.IncBotAction("callback", "unauthorized")
		return nil
	}
	if !b.allow(ctx, "callback") {
		metrics.IncBotAction("callback", "limited")
		answer = "Rate limit exceeded"
		return nil
	}
	data := strings.TrimSpace(query.Data)
	for _, pr := range b.cbPrefixRoutes() {
		if strings.HasPrefix(data, pr.Prefix) {
			text, err := pr.Fn(ctx, strings.TrimPrefix(data, pr.Prefix))
			metrics.IncBotAction(strings.TrimSuffix(pr.Prefix, ":"), outcome(err))
			answer = text
			return b.SendMessage(ctx, chatID, text)
		}
	}
	return errors.New("unknown callback data")
}

func (b *Bot) allow(ctx context.Context, action string) bool {
	if b.rateLimiter == nil {
		return true
	}
	ok, err := b.rateLimiter.Allow(ctx, red.ChatActionKey(b.chatID, action), actionLimit, actionWindow)
	if err != nil {
		b.log.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return ok
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (b *Bot) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendButtons sends text with an inline keyboard. Buttons with a URL open a link, the rest send
// their Data (or label) as callback data.
func (b *Bot) SendButtons(ctx context.Context, chatID int64, text string, rows [][]adapter.InlineButton) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			label := strings.TrimSpace(btn.Text)
			if label == "" {
				label = "•"
			}
			switch {
			case btn.URL != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonURL(label, btn.URL))
			case btn.Data != "":
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, btn.Data))
			default:
				r = append(r, tgbotapi.NewInlineKeyboardButtonData(label, label))
			}
		}
		kbRows = append(kbRows, r)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if len(kbRows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(kbRows...)
	}
	_, err := b.api.Send(msg)
	return err
}
