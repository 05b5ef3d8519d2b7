package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/repository"
	"omnicoder/internal/infra/metrics"
)

const (
	defaultMaxRetries    = 5
	defaultMaxConcurrent = 3
	cancelReason         = "user cancelled"
)

// errNotRunning aborts a terminal write against a task that no longer holds a slot.
var errNotRunning = errors.New("task is not running")

type EnqueueOptions struct {
	Type         model.TaskType
	Priority     model.Priority
	MaxRetries   *int
	ModelIndex   int
	ParentTaskID *string
}

type DequeueOption func(*dequeueOptions)

type dequeueOptions struct {
	skip     map[string]struct{}
	statuses map[model.TaskStatus]struct{}
}

// SkipIDs excludes the given tasks from this admission round.
func SkipIDs(ids ...string) DequeueOption {
	return func(o *dequeueOptions) {
		for _, id := range ids {
			o.skip[id] = struct{}{}
		}
	}
}

// OnlyStatuses narrows admission to tasks in the given admissible statuses.
func OnlyStatuses(statuses ...model.TaskStatus) DequeueOption {
	return func(o *dequeueOptions) {
		o.statuses = make(map[model.TaskStatus]struct{}, len(statuses))
		for _, s := range statuses {
			o.statuses[s] = struct{}{}
		}
	}
}

// StatusDetails carries the payload of a terminal status write.
type StatusDetails struct {
	Output *model.TaskOutput
	Error  string
}

type QueueStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// TaskQueue owns the task lifecycle and the in-memory running counter. Every mutation goes
// through q.mu, so admission is single-writer even when runs proceed concurrently.
type TaskQueue struct {
	mu            sync.Mutex
	tasks         repository.TaskRepository
	running       int
	maxConcurrent int
	now           func() time.Time
	log           *zerolog.Logger
}

func NewTaskQueue(tasks repository.TaskRepository, maxConcurrent int, logger *zerolog.Logger) *TaskQueue {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	l := logger.With().Str("component", "task_queue").Logger()
	metrics.SetQueueCapacity(maxConcurrent)
	return &TaskQueue{tasks: tasks, maxConcurrent: maxConcurrent, now: time.Now, log: &l}
}

func newTaskID() string { return "task_" + ulid.Make().String() }

func (q *TaskQueue) Enqueue(ctx context.Context, input model.TaskInput, opts EnqueueOptions) (*model.Task, error) {
	t := &model.Task{
		ID:                newTaskID(),
		Type:              model.TaskTypeCodeGeneration,
		Priority:          model.PriorityMedium,
		Status:            model.TaskStatusPending,
		Input:             input,
		MaxRetries:        defaultMaxRetries,
		CurrentModelIndex: model.ClampTierIndex(opts.ModelIndex),
		CreatedAt:         q.now(),
		RetryHistory:      []model.RetryEntry{},
		ChildTaskIDs:      []string{},
		ParentTaskID:      opts.ParentTaskID,
	}
	if t.Input.ExistingFiles == nil {
		t.Input.ExistingFiles = map[string]string{}
	}
	if opts.Type.Valid() {
		t.Type = opts.Type
	}
	if opts.Priority.Valid() {
		t.Priority = opts.Priority
	}
	if opts.MaxRetries != nil && *opts.MaxRetries >= 0 {
		t.MaxRetries = *opts.MaxRetries
	}
	if err := q.tasks.Create(ctx, nil, t); err != nil {
		return nil, err
	}
	metrics.IncTaskTransition(string(t.Status))
	q.log.Info().Str("task_id", t.ID).Str("priority", string(t.Priority)).Msg("task enqueued")
	return t.Clone(), nil
}

// Dequeue admits the highest-priority pending or queued task, oldest first.
// It returns nil, nil when the concurrency cap is reached or nothing is admissible.
func (q *TaskQueue) Dequeue(ctx context.Context, opts ...DequeueOption) (*model.Task, error) {
	o := dequeueOptions{skip: map[string]struct{}{}}
	for _, opt := range opts {
		opt(&o)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running >= q.maxConcurrent {
		return nil, nil
	}
	all, err := q.tasks.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	var pick *model.Task
	for _, t := range all {
		if !t.Status.Admissible() {
			continue
		}
		if _, skip := o.skip[t.ID]; skip {
			continue
		}
		if o.statuses != nil {
			if _, ok := o.statuses[t.Status]; !ok {
				continue
			}
		}
		if pick == nil || before(t, pick) {
			pick = t
		}
	}
	if pick == nil {
		return nil, nil
	}

	now := q.now()
	updated, err := q.tasks.Update(ctx, pick.ID, func(t *model.Task) error {
		if !t.Status.Admissible() {
			return fmt.Errorf("%w: %s -> running", domain.ErrInvalidTransition, t.Status)
		}
		t.Status = model.TaskStatusRunning
		t.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	q.running++
	metrics.SetQueueRunning(q.running)
	metrics.IncTaskTransition(string(model.TaskStatusRunning))
	return updated.Clone(), nil
}

func before(a, b *model.Task) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// UpdateStatus records a terminal outcome for a running task. Writes against a task that is
// no longer running (cancelled mid-flight) are ignored and the current task is returned.
func (q *TaskQueue) UpdateStatus(ctx context.Context, id string, status model.TaskStatus, details StatusDetails) (*model.Task, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: status %q is not terminal", domain.ErrInvalidArgument, status)
	}
	return q.finishRunning(ctx, id, func(t *model.Task) {
		now := q.now()
		t.Status = status
		t.CompletedAt = &now
		if details.Output != nil {
			t.Output = details.Output
		}
		if details.Error != "" {
			t.Error = model.StringPtr(details.Error)
		}
	})
}

// Retry frees the slot and either returns the task to pending (optionally one tier higher)
// or fails it once the retry budget is spent.
func (q *TaskQueue) Retry(ctx context.Context, id, errText string, escalate bool) (*model.Task, error) {
	outcome := ""
	t, err := q.finishRunning(ctx, id, func(t *model.Task) {
		now := q.now()
		outcome = "requeued"
		if t.RetryCount >= t.MaxRetries {
			outcome = "exhausted"
			t.Status = model.TaskStatusFailed
			t.Error = model.StringPtr(errText)
			t.CompletedAt = &now
			return
		}
		t.RetryCount++
		t.RetryHistory = append(t.RetryHistory, model.RetryEntry{
			Attempt:   t.RetryCount,
			ModelID:   model.TierAt(t.CurrentModelIndex).ID,
			Error:     errText,
			Timestamp: now,
		})
		if escalate {
			t.CurrentModelIndex = model.ClampTierIndex(t.CurrentModelIndex + 1)
		}
		t.Status = model.TaskStatusPending
		t.StartedAt = nil
		t.CompletedAt = nil
		t.Error = nil
	})
	if err == nil && outcome != "" {
		metrics.IncTaskRetry(outcome)
	}
	return t, err
}

// Release gives the slot back without consuming a retry.
func (q *TaskQueue) Release(ctx context.Context, id string) (*model.Task, error) {
	return q.finishRunning(ctx, id, func(t *model.Task) {
		t.Status = model.TaskStatusPending
		t.StartedAt = nil
	})
}

// finishRunning applies fn to a running task and frees its slot. A task that is not running
// is returned unchanged.
func (q *TaskQueue) finishRunning(ctx context.Context, id string, fn func(t *model.Task)) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	updated, err := q.tasks.Update(ctx, id, func(t *model.Task) error {
		if t.Status != model.TaskStatusRunning {
			return errNotRunning
		}
		fn(t)
		return nil
	})
	if errors.Is(err, errNotRunning) {
		current, ferr := q.tasks.FindByID(ctx, nil, id)
		if ferr != nil {
			return nil, ferr
		}
		q.log.Debug().Str("task_id", id).Str("status", string(current.Status)).Msg("ignoring write for task that is not running")
		return current.Clone(), nil
	}
	if err != nil {
		return nil, err
	}
	q.releaseSlot()
	metrics.IncTaskTransition(string(updated.Status))
	return updated.Clone(), nil
}

func (q *TaskQueue) releaseSlot() {
	if q.running > 0 {
		q.running--
	}
	metrics.SetQueueRunning(q.running)
}

// Cancel marks the task skipped regardless of its retry budget. An in-flight run keeps going
// but its later status write is ignored.
func (q *TaskQueue) Cancel(ctx context.Context, id string) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	wasRunning := false
	updated, err := q.tasks.Update(ctx, id, func(t *model.Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("%w: cannot cancel %s task", domain.ErrInvalidTransition, t.Status)
		}
		wasRunning = t.Status == model.TaskStatusRunning
		now := q.now()
		t.Status = model.TaskStatusSkipped
		t.Error = model.StringPtr(cancelReason)
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wasRunning {
		q.releaseSlot()
	}
	metrics.IncTaskTransition(string(model.TaskStatusSkipped))
	return updated.Clone(), nil
}

// Approve moves a pending task to queued so manual mode will run it.
func (q *TaskQueue) Approve(ctx context.Context, id string) (*model.Task, error) {
	return q.mutate(ctx, id, func(t *model.Task) error {
		if t.Status != model.TaskStatusPending {
			return fmt.Errorf("%w: cannot approve %s task", domain.ErrInvalidTransition, t.Status)
		}
		t.Status = model.TaskStatusQueued
		return nil
	})
}

// Skip drops a task that has not started.
func (q *TaskQueue) Skip(ctx context.Context, id string) (*model.Task, error) {
	return q.mutate(ctx, id, func(t *model.Task) error {
		if t.Status == model.TaskStatusRunning {
			return domain.ErrTaskRunning
		}
		if t.Status.Terminal() {
			return fmt.Errorf("%w: cannot skip %s task", domain.ErrInvalidTransition, t.Status)
		}
		now := q.now()
		t.Status = model.TaskStatusSkipped
		t.CompletedAt = &now
		return nil
	})
}

// Requeue puts a failed or skipped task back in line. Retry counters are left alone.
func (q *TaskQueue) Requeue(ctx context.Context, id string) (*model.Task, error) {
	return q.mutate(ctx, id, func(t *model.Task) error {
		if t.Status != model.TaskStatusFailed && t.Status != model.TaskStatusSkipped {
			return fmt.Errorf("%w: cannot requeue %s task", domain.ErrInvalidTransition, t.Status)
		}
		t.Status = model.TaskStatusQueued
		t.Error = nil
		t.StartedAt = nil
		t.CompletedAt = nil
		return nil
	})
}

// Reorder changes priority. Running tasks keep theirs.
func (q *TaskQueue) Reorder(ctx context.Context, id string, p model.Priority) (*model.Task, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: priority %q", domain.ErrInvalidArgument, p)
	}
	return q.mutate(ctx, id, func(t *model.Task) error {
		if t.Status != model.TaskStatusRunning {
			t.Priority = p
		}
		return nil
	})
}

func (q *TaskQueue) mutate(ctx context.Context, id string, fn repository.TaskMutator) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	updated, err := q.tasks.Update(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	metrics.IncTaskTransition(string(updated.Status))
	return updated.Clone(), nil
}

// CreateSubTask enqueues a child and links it to the parent. The two are scheduled independently.
func (q *TaskQueue) CreateSubTask(ctx context.Context, parentID string, input model.TaskInput, typ model.TaskType) (*model.Task, error) {
	parent, err := q.tasks.FindByID(ctx, nil, parentID)
	if err != nil {
		return nil, err
	}
	child, err := q.Enqueue(ctx, input, EnqueueOptions{
		Type:         typ,
		Priority:     parent.Priority,
		ModelIndex:   parent.CurrentModelIndex,
		ParentTaskID: model.StringPtr(parentID),
	})
	if err != nil {
		return nil, err
	}
	if _, err := q.tasks.Update(ctx, parentID, func(t *model.Task) error {
		t.ChildTaskIDs = append(t.ChildTaskIDs, child.ID)
		return nil
	}); err != nil {
		return nil, err
	}
	return child, nil
}

func (q *TaskQueue) Get(ctx context.Context, id string) (*model.Task, error) {
	return q.tasks.FindByID(ctx, nil, id)
}

func (q *TaskQueue) List(ctx context.Context) ([]*model.Task, error) {
	return q.tasks.List(ctx, nil)
}

func (q *TaskQueue) Stats(ctx context.Context) (QueueStats, error) {
	all, err := q.tasks.List(ctx, nil)
	if err != nil {
		return QueueStats{}, err
	}
	s := QueueStats{Total: len(all)}
	for _, t := range all {
		switch t.Status {
		case model.TaskStatusPending, model.TaskStatusQueued:
			s.Pending++
		case model.TaskStatusRunning:
			s.Running++
		case model.TaskStatusCompleted:
			s.Completed++
		case model.TaskStatusFailed:
			s.Failed++
		case model.TaskStatusSkipped:
			s.Skipped++
		}
	}
	return s, nil
}

// SetMaxConcurrent resizes the cap. Running tasks above a lowered cap finish normally.
func (q *TaskQueue) SetMaxConcurrent(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	q.maxConcurrent = n
	q.mu.Unlock()
	metrics.SetQueueCapacity(n)
}

func (q *TaskQueue) MaxConcurrent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxConcurrent
}

func (q *TaskQueue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// RecoverStale returns tasks left running by a previous process to pending. Call it before the
// first Dequeue.
func (q *TaskQueue) RecoverStale(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	all, err := q.tasks.List(ctx, nil)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range all {
		if t.Status != model.TaskStatusRunning {
			continue
		}
		if _, err := q.tasks.Update(ctx, t.ID, func(t *model.Task) error {
			if t.Status != model.TaskStatusRunning {
				return errNotRunning
			}
			t.Status = model.TaskStatusPending
			t.StartedAt = nil
			return nil
		}); err != nil && !errors.Is(err, errNotRunning) {
			return n, err
		}
		n++
	}
	if n > 0 {
		q.log.Warn().Int("count", n).Msg("recovered stale running tasks")
	}
	return n, nil
}
