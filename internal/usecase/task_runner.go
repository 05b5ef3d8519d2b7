package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/domain/ports/repository"
	"omnicoder/internal/infra/logging"
)

// Generator produces a task output from a task; *Orchestrator is the production implementation.
type Generator interface {
	Run(ctx context.Context, task *model.Task, opts RunOptions) (*model.TaskOutput, error)
}

const bridgeModelID = "coding-agent"

// TaskRunner executes one admitted task over the generation loop or the bridge agent and
// reports the terminal result back to the queue.
type TaskRunner struct {
	queue    *TaskQueue
	gen      Generator
	agent    adapter.CodingAgent
	settings repository.SettingsRepository
	logs     repository.ConversationLogRepository
	files    repository.FileSnapshotRepository
	costs    repository.CostLedgerRepository
	notifier adapter.Notifier
	log      *zerolog.Logger
}

type TaskRunnerDeps struct {
	Queue    *TaskQueue
	Gen      Generator
	Agent    adapter.CodingAgent // optional
	Settings repository.SettingsRepository
	Logs     repository.ConversationLogRepository
	Files    repository.FileSnapshotRepository
	Costs    repository.CostLedgerRepository
	Notifier adapter.Notifier // optional
}

func NewTaskRunner(d TaskRunnerDeps, logger *zerolog.Logger) *TaskRunner {
	l := logger.With().Str("component", "task_runner").Logger()
	return &TaskRunner{
		queue:    d.Queue,
		gen:      d.Gen,
		agent:    d.Agent,
		settings: d.Settings,
		logs:     d.Logs,
		files:    d.Files,
		costs:    d.Costs,
		notifier: d.Notifier,
		log:      &l,
	}
}

// Run must be called with a task just returned by TaskQueue.Dequeue.
func (r *TaskRunner) Run(ctx context.Context, task *model.Task) error {
	ctx = logging.WithTaskID(ctx, task.ID)
	log := logging.With(ctx, r.log)

	settings, err := r.settings.Get(ctx, nil)
	if err != nil {
		r.release(ctx, task.ID)
		return fmt.Errorf("load settings: %w", err)
	}

	if settings.BudgetLimit > 0 {
		spent, err := r.costs.Total(ctx, nil)
		if err != nil {
			r.release(ctx, task.ID)
			return fmt.Errorf("read cost ledger: %w", err)
		}
		if spent >= settings.BudgetLimit {
			r.release(ctx, task.ID)
			return fmt.Errorf("%w: spent %.2f of %.2f", domain.ErrBudgetExceeded, spent, settings.BudgetLimit)
		}
	}

	r.setLogStatus(ctx, task.ID, model.LogStatusExecuting, nil)

	var final *model.Task
	if settings.UseBridge && r.agent != nil {
		final, err = r.runBridge(ctx, task)
	} else {
		final, err = r.runLoop(ctx, task, settings)
	}
	if err != nil {
		return err
	}
	log.Info().Str("status", string(final.Status)).Int("retry_count", final.RetryCount).Msg("task run finished")
	r.finish(ctx, final, settings)
	return nil
}

func (r *TaskRunner) runLoop(ctx context.Context, task *model.Task, settings *model.Settings) (*model.Task, error) {
	log := logging.With(ctx, r.log)
	out, err := r.gen.Run(ctx, task, RunOptions{
		AutoUpgrade: settings.AutoUpgrade,
		OnCost: func(e model.CostEntry) {
			if err := r.costs.Append(ctx, nil, e); err != nil {
				log.Error().Err(err).Msg("failed to record cost entry")
			}
		},
		OnProgress: func(p Progress) {
			log.Debug().
				Str("stage", string(p.Stage)).
				Int("iteration", p.Iteration).
				Str("model", p.Model).
				Str("status", p.Status).
				Float64("cost", p.Cost).
				Msg("progress")
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// shutting down: hand the slot back without charging a retry
			r.release(context.WithoutCancel(ctx), task.ID)
			return nil, err
		}
		log.Warn().Err(err).Msg("generation failed")
		return r.queue.Retry(ctx, task.ID, err.Error(), true)
	}

	final, err := r.queue.UpdateStatus(ctx, task.ID, model.TaskStatusCompleted, StatusDetails{Output: out})
	if err != nil {
		return nil, err
	}
	if final.Status == model.TaskStatusCompleted {
		r.mergeSnapshot(ctx, out.Files)
	}
	return final, nil
}

func (r *TaskRunner) runBridge(ctx context.Context, task *model.Task) (*model.Task, error) {
	res, err := r.agent.Execute(ctx, adapter.AgentRequest{
		TaskID:            task.ID,
		UserMessage:       task.Input.UserMessage,
		AssistantResponse: task.Input.AssistantResponse,
	})
	if err != nil {
		if ctx.Err() != nil {
			r.release(context.WithoutCancel(ctx), task.ID)
			return nil, ctx.Err()
		}
		if !errors.Is(err, domain.ErrBridgeUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrBridgeUnavailable, err)
		}
		return r.queue.Retry(ctx, task.ID, err.Error(), false)
	}
	if !res.Success {
		return r.queue.Retry(ctx, task.ID, fmt.Errorf("%w: %s", domain.ErrBridgeFailed, res.Error).Error(), false)
	}

	out := bridgeOutput(res)
	final, err := r.queue.UpdateStatus(ctx, task.ID, model.TaskStatusCompleted, StatusDetails{Output: out})
	if err != nil {
		return nil, err
	}
	if final.Status == model.TaskStatusCompleted {
		r.mergeSnapshot(ctx, out.Files)
	}
	return final, nil
}

// bridgeOutput shapes an agent result like a loop result so callers see one format.
func bridgeOutput(res *adapter.AgentResult) *model.TaskOutput {
	paths := make([]string, 0, len(res.Files))
	for p := range res.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	files := make([]model.FileEdit, 0, len(paths))
	for _, p := range paths {
		files = append(files, model.FileEdit{
			Path:     p,
			Content:  res.Files[p],
			Action:   model.FileActionCreate,
			Language: DetectLanguage(p),
		})
	}
	summary := res.Output
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return &model.TaskOutput{
		Summary:      summary,
		Files:        files,
		Commands:     []string{},
		Model:        bridgeModelID,
		IsCodingTask: true,
	}
}

func (r *TaskRunner) mergeSnapshot(ctx context.Context, files []model.FileEdit) {
	if len(files) == 0 {
		return
	}
	if err := r.files.Apply(ctx, files); err != nil {
		logging.With(ctx, r.log).Error().Err(err).Msg("failed to merge output into file snapshot")
	}
}

func (r *TaskRunner) finish(ctx context.Context, t *model.Task, settings *model.Settings) {
	switch t.Status {
	case model.TaskStatusCompleted:
		var cost *float64
		if t.Output != nil {
			c := t.Output.Cost
			cost = &c
		}
		r.setLogStatus(ctx, t.ID, model.LogStatusCompleted, cost)
	case model.TaskStatusFailed:
		r.setLogStatus(ctx, t.ID, model.LogStatusFailed, nil)
	case model.TaskStatusSkipped:
		r.setLogStatus(ctx, t.ID, model.LogStatusSkipped, nil)
	default:
		// back to pending; manual mode needs a fresh approval before it runs again
		status := model.LogStatusApproved
		if settings.ExecutionMode == model.ExecutionModeManual {
			status = model.LogStatusDetected
		}
		r.setLogStatus(ctx, t.ID, status, nil)
		return
	}
	if r.notifier != nil && settings.NotificationsEnabled {
		if err := r.notifier.TaskFinished(ctx, t); err != nil {
			logging.With(ctx, r.log).Warn().Err(err).Msg("notify task finished")
		}
	}
}

func (r *TaskRunner) setLogStatus(ctx context.Context, taskID string, s model.LogStatus, cost *float64) {
	if err := r.logs.UpdateStatusByTask(ctx, taskID, s, cost); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logging.With(ctx, r.log).Warn().Err(err).Str("log_status", string(s)).Msg("failed to update conversation log")
	}
}

func (r *TaskRunner) release(ctx context.Context, id string) {
	if _, err := r.queue.Release(ctx, id); err != nil {
		logging.With(ctx, r.log).Error().Err(err).Msg("failed to release task")
	}
}
