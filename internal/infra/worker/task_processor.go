package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
	"omnicoder/internal/infra/logging"
	red "omnicoder/internal/infra/redis"
	"omnicoder/internal/usecase"
)

const drainLockKey = "omnicoder:queue:drain"

type Queue interface {
	Dequeue(ctx context.Context, opts ...usecase.DequeueOption) (*model.Task, error)
	Release(ctx context.Context, id string) (*model.Task, error)
	RecoverStale(ctx context.Context) (int, error)
}

type Runner interface {
	Run(ctx context.Context, task *model.Task) error
}

type ProcessorConfig struct {
	PollInterval time.Duration
	LockTTL      time.Duration
}

// TaskProcessor is the control loop: on every tick or Kick it admits as many tasks as the
// queue allows and hands each one to the pool.
type TaskProcessor struct {
	queue    Queue
	runner   Runner
	settings repository.SettingsRepository
	costs    repository.CostLedgerRepository
	pool     *Pool
	locker   red.Locker
	interval time.Duration
	lockTTL  time.Duration
	kick     chan struct{}
	log      zerolog.Logger

	// set while admission is paused by the budget limit; only touched from drain
	budgetHeld bool
}

func NewTaskProcessor(queue Queue, runner Runner, settings repository.SettingsRepository, costs repository.CostLedgerRepository, pool *Pool, locker red.Locker, cfg ProcessorConfig, logger *zerolog.Logger) *TaskProcessor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &TaskProcessor{
		queue:    queue,
		runner:   runner,
		settings: settings,
		costs:    costs,
		pool:     pool,
		locker:   locker,
		interval: cfg.PollInterval,
		lockTTL:  cfg.LockTTL,
		kick:     make(chan struct{}, 1),
		log:      logger.With().Str("component", "task_processor").Logger(),
	}
}

// Kick asks for a drain without waiting for the next tick.
func (p *TaskProcessor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *TaskProcessor) Run(ctx context.Context) error {
	p.log.Info().Dur("interval", p.interval).Msg("task processor started")
	if n, err := p.queue.RecoverStale(ctx); err != nil {
		p.log.Error().Err(err).Msg("stale task recovery failed")
	} else if n > 0 {
		p.log.Info().Int("count", n).Msg("stale tasks returned to pending")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("task processor stopping")
			return ctx.Err()
		case <-ticker.C:
			p.drain(ctx)
		case <-p.kick:
			p.drain(ctx)
		}
	}
}

func (p *TaskProcessor) drain(ctx context.Context) {
	token, err := p.locker.TryLock(ctx, drainLockKey, p.lockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockNotAcquired) && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("drain lock unavailable")
		}
		return
	}
	defer func() {
		if err := p.locker.Unlock(context.WithoutCancel(ctx), drainLockKey, token); err != nil {
			p.log.Warn().Err(err).Msg("drain unlock failed")
		}
	}()

	settings, err := p.settings.Get(ctx, nil)
	if err != nil {
		p.log.Error().Err(err).Msg("load settings")
		return
	}
	if p.overBudget(ctx, settings) {
		return
	}
	var opts []usecase.DequeueOption
	if settings.ExecutionMode == model.ExecutionModeManual {
		opts = append(opts, usecase.OnlyStatuses(model.TaskStatusQueued))
	}

	var released []string
	for ctx.Err() == nil {
		task, err := p.queue.Dequeue(ctx, append(opts, usecase.SkipIDs(released...))...)
		if err != nil {
			p.log.Error().Err(err).Msg("dequeue failed")
			return
		}
		if task == nil {
			return
		}
		if err := p.pool.Submit(p.job(task)); err != nil {
			p.log.Warn().Err(err).Str("task_id", task.ID).Msg("pool rejected task, releasing")
			if _, rerr := p.queue.Release(ctx, task.ID); rerr != nil {
				p.log.Error().Err(rerr).Str("task_id", task.ID).Msg("release failed")
				return
			}
			released = append(released, task.ID)
		}
	}
}

// overBudget keeps tasks in the queue while the ledger is at or past the limit.
// The runner re-checks on admission; this stops the release and re-admit cycle on every tick.
func (p *TaskProcessor) overBudget(ctx context.Context, settings *model.Settings) bool {
	held := false
	var spent float64
	if settings.BudgetLimit > 0 {
		var err error
		spent, err = p.costs.Total(ctx, nil)
		if err != nil {
			p.log.Error().Err(err).Msg("read cost ledger")
			return true
		}
		held = spent >= settings.BudgetLimit
	}
	if held != p.budgetHeld {
		if held {
			p.log.Warn().Float64("spent", spent).Float64("limit", settings.BudgetLimit).Msg("budget exhausted, pausing task admission")
		} else {
			p.log.Info().Msg("budget available, resuming task admission")
		}
		p.budgetHeld = held
	}
	return held
}

func (p *TaskProcessor) job(task *model.Task) Task {
	return func(ctx context.Context) error {
		ctx = logging.WithTaskID(ctx, task.ID)
		return p.runner.Run(ctx, task)
	}
}
