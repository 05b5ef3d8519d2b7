package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/domain/ports/repository"
	"omnicoder/internal/infra/logging"
	"omnicoder/internal/infra/security"
	"omnicoder/internal/usecase"
)

const (
	backupVersion  = 1
	maskedKey      = "********"
	selfTestPrompt = "ping"
	selfTestTokens = 16
	minOutputGuess = 256
)

// Kicker wakes the task processor.
type Kicker interface {
	Kick()
}

// LogCleaner runs one retention pass over conversation logs.
type LogCleaner interface {
	RunOnce(ctx context.Context) (int, error)
}

// Repos groups the persistence ports the facade reads and rewrites.
type Repos struct {
	Tasks    repository.TaskRepository
	Settings repository.SettingsRepository
	Logs     repository.ConversationLogRepository
	Files    repository.FileSnapshotRepository
	Costs    repository.CostLedgerRepository
	Tx       repository.TransactionManager
}

type FacadeDeps struct {
	Queue       *usecase.TaskQueue
	Repos       Repos
	LLM         adapter.LLMClient        // unwrapped client for the self test
	Credentials adapter.CredentialSetter // optional
	Counter     adapter.TokenCounter
	Crypto      *security.EncryptionService // nil stores the key as given
	Notifier    adapter.Notifier            // optional
	Kicker      Kicker                      // optional
	Cleaner     LogCleaner                  // optional
	MaxTokens   int
}

// ControlFacade is the command surface shared by the HTTP API, the CLI and the Telegram bot.
type ControlFacade struct {
	queue     *usecase.TaskQueue
	repos     Repos
	llm       adapter.LLMClient
	creds     adapter.CredentialSetter
	counter   adapter.TokenCounter
	crypto    *security.EncryptionService
	notifier  adapter.Notifier
	kicker    Kicker
	cleaner   LogCleaner
	maxTokens int
	now       func() time.Time
	log       *zerolog.Logger
}

func NewControlFacade(d FacadeDeps, logger *zerolog.Logger) *ControlFacade {
	l := logger.With().Str("component", "control_facade").Logger()
	if d.MaxTokens <= 0 {
		d.MaxTokens = 8000
	}
	return &ControlFacade{
		queue:     d.Queue,
		repos:     d.Repos,
		llm:       d.LLM,
		creds:     d.Credentials,
		counter:   d.Counter,
		crypto:    d.Crypto,
		notifier:  d.Notifier,
		kicker:    d.Kicker,
		cleaner:   d.Cleaner,
		maxTokens: d.MaxTokens,
		now:       time.Now,
		log:       &l,
	}
}

// TurnRequest is one detected chat turn to turn into a task.
type TurnRequest struct {
	UserMessage       string            `json:"user_message"`
	AssistantResponse string            `json:"assistant_response"`
	ExistingFiles     map[string]string `json:"existing_files,omitempty"`
	Priority          model.Priority    `json:"priority,omitempty"`
	Type              model.TaskType    `json:"type,omitempty"`
}

// EnqueueFromTurn creates a task and its conversation log. In full_auto the task is approved
// on the spot; outside manual mode the processor is woken.
func (f *ControlFacade) EnqueueFromTurn(ctx context.Context, req TurnRequest) (*model.Task, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, fmt.Errorf("%w: user message is empty", domain.ErrInvalidArgument)
	}
	settings, err := f.repos.Settings.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	files := req.ExistingFiles
	if files == nil {
		if files, err = f.repos.Files.GetAll(ctx, nil); err != nil {
			return nil, fmt.Errorf("load file snapshot: %w", err)
		}
	}

	maxRetries := settings.MaxRetries
	task, err := f.queue.Enqueue(ctx, model.TaskInput{
		UserMessage:       req.UserMessage,
		AssistantResponse: req.AssistantResponse,
		ExistingFiles:     files,
	}, usecase.EnqueueOptions{
		Type:       req.Type,
		Priority:   req.Priority,
		MaxRetries: &maxRetries,
		ModelIndex: settings.DefaultModelIndex,
	})
	if err != nil {
		return nil, err
	}
	ctx = logging.WithTaskID(ctx, task.ID)
	log := logging.With(ctx, f.log)

	entry := model.NewConversationLog(req.UserMessage, req.AssistantResponse, task.ID)
	entry.Timestamp = f.now()
	if err := f.repos.Logs.Append(ctx, nil, entry); err != nil {
		log.Warn().Err(err).Msg("failed to record conversation log")
	}

	if settings.ExecutionMode == model.ExecutionModeFullAuto {
		if task, err = f.queue.Approve(ctx, task.ID); err != nil {
			return nil, err
		}
		f.setLogStatus(ctx, task.ID, model.LogStatusApproved)
	}
	if settings.NotificationsEnabled && f.notifier != nil {
		if err := f.notifier.TaskCreated(ctx, task); err != nil {
			log.Warn().Err(err).Msg("notify task created")
		}
	}
	if settings.ExecutionMode != model.ExecutionModeManual {
		f.kick()
	}
	log.Info().Str("mode", string(settings.ExecutionMode)).Msg("turn enqueued")
	return task, nil
}

func (f *ControlFacade) Approve(ctx context.Context, id string) (*model.Task, error) {
	t, err := f.queue.Approve(ctx, id)
	if err != nil {
		return nil, err
	}
	f.setLogStatus(ctx, id, model.LogStatusApproved)
	f.kick()
	return t, nil
}

func (f *ControlFacade) Skip(ctx context.Context, id string) (*model.Task, error) {
	t, err := f.queue.Skip(ctx, id)
	if err != nil {
		return nil, err
	}
	f.setLogStatus(ctx, id, model.LogStatusSkipped)
	return t, nil
}

func (f *ControlFacade) Cancel(ctx context.Context, id string) (*model.Task, error) {
	t, err := f.queue.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	f.setLogStatus(ctx, id, model.LogStatusSkipped)
	f.kick()
	return t, nil
}

// Requeue gives a failed or skipped task another go without touching its retry counters.
func (f *ControlFacade) Requeue(ctx context.Context, id string) (*model.Task, error) {
	t, err := f.queue.Requeue(ctx, id)
	if err != nil {
		return nil, err
	}
	f.setLogStatus(ctx, id, model.LogStatusApproved)
	f.kick()
	return t, nil
}

func (f *ControlFacade) Reprioritize(ctx context.Context, id string, p model.Priority) (*model.Task, error) {
	return f.queue.Reorder(ctx, id, p)
}

func (f *ControlFacade) CreateSubTask(ctx context.Context, parentID string, input model.TaskInput, typ model.TaskType) (*model.Task, error) {
	if strings.TrimSpace(input.UserMessage) == "" {
		return nil, fmt.Errorf("%w: user message is empty", domain.ErrInvalidArgument)
	}
	child, err := f.queue.CreateSubTask(ctx, parentID, input, typ)
	if err != nil {
		return nil, err
	}
	f.kick()
	return child, nil
}

func (f *ControlFacade) ListTasks(ctx context.Context) ([]*model.Task, error) {
	return f.queue.List(ctx)
}

func (f *ControlFacade) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return f.queue.Get(ctx, id)
}

func (f *ControlFacade) Stats(ctx context.Context) (usecase.QueueStats, error) {
	return f.queue.Stats(ctx)
}

// StateView is everything a dashboard needs in one read.
type StateView struct {
	Tasks          []*model.Task            `json:"tasks"`
	Logs           []*model.ConversationLog `json:"logs"`
	Files          map[string]string        `json:"files"`
	CostHistory    []model.CostEntry        `json:"cost_history"`
	Settings       *model.Settings          `json:"settings"`
	TotalCost      float64                  `json:"total_cost"`
	TodayCost      float64                  `json:"today_cost"`
	QueuedCount    int                      `json:"queued_count"`
	CompletedCount int                      `json:"completed_count"`
	FailedCount    int                      `json:"failed_count"`
	IsProcessing   bool                     `json:"is_processing"`
}

func (f *ControlFacade) State(ctx context.Context) (*StateView, error) {
	tasks, err := f.repos.Tasks.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	logs, err := f.repos.Logs.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	files, err := f.repos.Files.GetAll(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	costs, err := f.repos.Costs.List(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list costs: %w", err)
	}
	settings, err := f.Settings(ctx)
	if err != nil {
		return nil, err
	}

	now := f.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	v := &StateView{
		Tasks:        tasks,
		Logs:         logs,
		Files:        files,
		CostHistory:  costs,
		Settings:     settings,
		TotalCost:    model.SumCost(costs),
		TodayCost:    model.SumCostSince(costs, midnight),
		IsProcessing: f.queue.Running() > 0,
	}
	for _, t := range tasks {
		switch t.Status {
		case model.TaskStatusPending, model.TaskStatusQueued:
			v.QueuedCount++
		case model.TaskStatusCompleted:
			v.CompletedCount++
		case model.TaskStatusFailed:
			v.FailedCount++
		}
	}
	return v, nil
}

// Settings returns the stored settings with the credential masked.
func (f *ControlFacade) Settings(ctx context.Context) (*model.Settings, error) {
	s, err := f.repos.Settings.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return masked(s), nil
}

func masked(s *model.Settings) *model.Settings {
	cp := *s
	if cp.APIKey != "" {
		cp.APIKey = maskedKey
	}
	return &cp
}

// UpdateSettings merges patch into the stored settings. A new api key is encrypted before it is
// saved and handed to the live client; a new concurrency cap takes effect immediately.
func (f *ControlFacade) UpdateSettings(ctx context.Context, patch model.SettingsPatch) (*model.Settings, error) {
	var plainKey *string
	if patch.APIKey != nil {
		k := strings.TrimSpace(*patch.APIKey)
		if k == maskedKey {
			// echoed back from a read; keep the stored key
			patch.APIKey = nil
		} else {
			enc, err := f.crypto.Encrypt(k)
			if err != nil {
				return nil, fmt.Errorf("encrypt api key: %w", err)
			}
			plainKey = &k
			patch.APIKey = &enc
		}
	}

	current, err := f.repos.Settings.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	next := patch.Apply(*current)
	if err := f.repos.Settings.Save(ctx, nil, &next); err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}

	if plainKey != nil && f.creds != nil {
		f.creds.SetAPIKey(*plainKey)
	}
	if next.MaxConcurrentTasks != f.queue.MaxConcurrent() {
		f.queue.SetMaxConcurrent(next.MaxConcurrentTasks)
		f.kick()
	}
	if next.ExecutionMode != current.ExecutionMode {
		f.kick()
	}
	f.log.Info().
		Str("mode", string(next.ExecutionMode)).
		Int("max_concurrent", next.MaxConcurrentTasks).
		Bool("api_key_changed", plainKey != nil).
		Msg("settings updated")
	return masked(&next), nil
}

func (f *ControlFacade) SetExecutionMode(ctx context.Context, mode model.ExecutionMode) (*model.Settings, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: execution mode %q", domain.ErrInvalidArgument, mode)
	}
	return f.UpdateSettings(ctx, model.SettingsPatch{ExecutionMode: &mode})
}

// SetModel selects the default tier by index or tier id. Unknown references leave the
// settings unchanged.
func (f *ControlFacade) SetModel(ctx context.Context, ref string) (*model.Settings, error) {
	ref = strings.TrimSpace(ref)
	idx := model.TierIndex(ref)
	if idx < 0 {
		if n, err := strconv.Atoi(ref); err == nil && n >= 0 && n <= model.LastTierIndex() {
			idx = n
		}
	}
	if idx < 0 {
		f.log.Debug().Str("model", ref).Msg("unknown model ignored")
		return f.Settings(ctx)
	}
	return f.UpdateSettings(ctx, model.SettingsPatch{DefaultModelIndex: &idx})
}

// LoadCredentials hands the stored api key to the live client. Called once at start-up.
func (f *ControlFacade) LoadCredentials(ctx context.Context) error {
	if f.creds == nil {
		return nil
	}
	s, err := f.repos.Settings.Get(ctx, nil)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if s.APIKey == "" {
		return nil
	}
	key, err := f.crypto.Decrypt(s.APIKey)
	if err != nil {
		return fmt.Errorf("decrypt api key: %w", err)
	}
	f.creds.SetAPIKey(key)
	return nil
}

type SelfTestResult struct {
	OK      bool          `json:"ok"`
	Model   string        `json:"model"`
	Reply   string        `json:"reply,omitempty"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// TestConnection sends one tiny request to the cheapest tier. It bypasses retries so a bad
// credential shows up at once.
func (f *ControlFacade) TestConnection(ctx context.Context) (*SelfTestResult, error) {
	tier := model.TierAt(0)
	start := f.now()
	resp, err := f.llm.Call(ctx, adapter.LLMRequest{
		Model:     tier.ID,
		System:    usecase.SelfTestSystemPrompt,
		Messages:  []adapter.Message{{Role: "user", Content: selfTestPrompt}},
		MaxTokens: selfTestTokens,
	})
	res := &SelfTestResult{Model: tier.ID, Latency: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		f.log.Warn().Err(err).Str("model", tier.ID).Msg("connection test failed")
		return res, err
	}
	res.OK = true
	res.Reply = strings.TrimSpace(resp.Text())
	return res, nil
}

type CostEstimate struct {
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// EstimateCost prices the first author call of a prospective task at the default tier.
// Output is guessed at twice the prompt size, bounded by the configured token cap.
func (f *ControlFacade) EstimateCost(ctx context.Context, input model.TaskInput) (*CostEstimate, error) {
	if strings.TrimSpace(input.UserMessage) == "" {
		return nil, fmt.Errorf("%w: user message is empty", domain.ErrInvalidArgument)
	}
	settings, err := f.repos.Settings.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	tier := model.TierAt(settings.DefaultModelIndex)
	prompt := usecase.BuildAuthorPrompt(input.UserMessage, input.AssistantResponse, input.ExistingFiles)
	in, err := f.counter.CountTokens(ctx, tier.ID, usecase.AuthorSystemPrompt, []adapter.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("count tokens: %w", err)
	}
	out := in * 2
	if out < minOutputGuess {
		out = minOutputGuess
	}
	if out > f.maxTokens {
		out = f.maxTokens
	}
	return &CostEstimate{
		Model:        tier.ID,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         model.Cost(tier.ID, in, out),
	}, nil
}

// Backup is the single JSON document written by Export and read by Import.
type Backup struct {
	Version    int                      `json:"version"`
	ExportedAt time.Time                `json:"exported_at"`
	Tasks      []*model.Task            `json:"tasks"`
	Logs       []*model.ConversationLog `json:"logs"`
	Files      map[string]string        `json:"files"`
	Costs      []model.CostEntry        `json:"costs"`
	Settings   model.Settings           `json:"settings"`
}

// Export reads every collection. The credential is left out.
func (f *ControlFacade) Export(ctx context.Context) (*Backup, error) {
	b := &Backup{Version: backupVersion, ExportedAt: f.now().UTC()}
	err := f.repos.Tx.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if b.Tasks, err = f.repos.Tasks.List(ctx, tx); err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		if b.Logs, err = f.repos.Logs.List(ctx, tx); err != nil {
			return fmt.Errorf("list logs: %w", err)
		}
		if b.Files, err = f.repos.Files.GetAll(ctx, tx); err != nil {
			return fmt.Errorf("load files: %w", err)
		}
		if b.Costs, err = f.repos.Costs.List(ctx, tx); err != nil {
			return fmt.Errorf("list costs: %w", err)
		}
		s, err := f.repos.Settings.Get(ctx, tx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		b.Settings = *s
		b.Settings.APIKey = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Import replaces every collection with the backup. It refuses while tasks are running.
// Tasks saved mid-run come back as pending.
func (f *ControlFacade) Import(ctx context.Context, b *Backup) error {
	if b == nil {
		return fmt.Errorf("%w: empty backup", domain.ErrInvalidArgument)
	}
	if b.Version != backupVersion {
		return fmt.Errorf("%w: unsupported backup version %d", domain.ErrInvalidArgument, b.Version)
	}
	if f.queue.Running() > 0 {
		return fmt.Errorf("%w: cannot import while tasks run", domain.ErrTaskRunning)
	}
	for _, t := range b.Tasks {
		if t == nil || t.ID == "" {
			return fmt.Errorf("%w: task without id", domain.ErrInvalidArgument)
		}
	}

	var settings model.Settings
	err := f.repos.Tx.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ctx context.Context, tx repository.Tx) error {
		current, err := f.repos.Settings.Get(ctx, tx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		settings = b.Settings
		settings.APIKey = current.APIKey
		if !settings.ExecutionMode.Valid() {
			settings.ExecutionMode = current.ExecutionMode
		}
		if settings.MaxConcurrentTasks <= 0 {
			settings.MaxConcurrentTasks = current.MaxConcurrentTasks
		}
		if err := f.repos.Settings.Save(ctx, tx, &settings); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		return f.replaceAll(ctx, tx, b.Tasks, b.Logs, b.Files, b.Costs)
	})
	if err != nil {
		return err
	}

	f.queue.SetMaxConcurrent(settings.MaxConcurrentTasks)
	if _, err := f.queue.RecoverStale(ctx); err != nil {
		return fmt.Errorf("recover imported tasks: %w", err)
	}
	f.log.Info().
		Int("tasks", len(b.Tasks)).
		Int("logs", len(b.Logs)).
		Int("files", len(b.Files)).
		Int("costs", len(b.Costs)).
		Msg("backup imported")
	f.kick()
	return nil
}

// Clear wipes tasks, logs, files and the cost ledger. Settings are kept.
func (f *ControlFacade) Clear(ctx context.Context) error {
	if f.queue.Running() > 0 {
		return fmt.Errorf("%w: cannot clear while tasks run", domain.ErrTaskRunning)
	}
	err := f.repos.Tx.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return f.replaceAll(ctx, tx, nil, nil, map[string]string{}, nil)
	})
	if err != nil {
		return err
	}
	f.log.Info().Msg("all data cleared")
	return nil
}

func (f *ControlFacade) replaceAll(ctx context.Context, tx repository.Tx, tasks []*model.Task, logs []*model.ConversationLog, files map[string]string, costs []model.CostEntry) error {
	if files == nil {
		files = map[string]string{}
	}
	if err := f.repos.Tasks.ReplaceAll(ctx, tx, tasks); err != nil {
		return fmt.Errorf("replace tasks: %w", err)
	}
	if err := f.repos.Logs.ReplaceAll(ctx, tx, logs); err != nil {
		return fmt.Errorf("replace logs: %w", err)
	}
	if err := f.repos.Files.ReplaceAll(ctx, tx, files); err != nil {
		return fmt.Errorf("replace files: %w", err)
	}
	if err := f.repos.Costs.ReplaceAll(ctx, tx, costs); err != nil {
		return fmt.Errorf("replace costs: %w", err)
	}
	return nil
}

// CleanupLogs runs the retention pass now instead of waiting for the ticker.
func (f *ControlFacade) CleanupLogs(ctx context.Context) (int, error) {
	if f.cleaner == nil {
		return 0, nil
	}
	return f.cleaner.RunOnce(ctx)
}

func (f *ControlFacade) kick() {
	if f.kicker != nil {
		f.kicker.Kick()
	}
}

func (f *ControlFacade) setLogStatus(ctx context.Context, taskID string, s model.LogStatus) {
	if err := f.repos.Logs.UpdateStatusByTask(ctx, taskID, s, nil); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logging.With(ctx, f.log).Warn().Err(err).Str("log_status", string(s)).Msg("failed to update conversation log")
	}
}
