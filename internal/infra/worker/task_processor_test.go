package worker

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnicoder/internal/domain/model"
	"omnicoder/internal/infra/db/memory"
	"omnicoder/internal/infra/logging"
	red "omnicoder/internal/infra/redis"
	"omnicoder/internal/usecase"
)

// recordingRunner completes every task it is given.
type recordingRunner struct {
	queue *usecase.TaskQueue
	mu    sync.Mutex
	ran   []string
	seen  chan string
}

func (r *recordingRunner) Run(ctx context.Context, task *model.Task) error {
	r.mu.Lock()
	r.ran = append(r.ran, task.ID)
	r.mu.Unlock()
	_, err := r.queue.UpdateStatus(ctx, task.ID, model.TaskStatusCompleted, usecase.StatusDetails{Output: &model.TaskOutput{}})
	r.seen <- task.ID
	return err
}

type processorFixture struct {
	store  *memory.Store
	queue  *usecase.TaskQueue
	runner *recordingRunner
	proc   *TaskProcessor
	pool   *Pool
}

func newProcessorFixture(t *testing.T, mode model.ExecutionMode) *processorFixture {
	t.Helper()
	store := memory.NewStore()
	s := model.DefaultSettings()
	s.ExecutionMode = mode
	require.NoError(t, store.Settings.Save(context.Background(), nil, &s))

	q := usecase.NewTaskQueue(store.Tasks, 3, logging.Nop())
	runner := &recordingRunner{queue: q, seen: make(chan string, 16)}
	pool := NewPool(2, logging.Nop())
	proc := NewTaskProcessor(q, runner, store.Settings, store.Costs, pool, red.NewLocker(red.NewMemoryClient()),
		ProcessorConfig{PollInterval: time.Hour}, logging.Nop())
	return &processorFixture{store: store, queue: q, runner: runner, proc: proc, pool: pool}
}

func (f *processorFixture) start(t *testing.T) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	f.pool.Start(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.proc.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
		f.pool.Stop()
	}
}

func (f *processorFixture) expectRun(t *testing.T, id string) {
	t.Helper()
	select {
	case got := <-f.runner.seen:
		assert.Equal(t, id, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s was not run", id)
	}
}

func (f *processorFixture) expectIdle(t *testing.T) {
	t.Helper()
	select {
	case got := <-f.runner.seen:
		t.Fatalf("unexpected run of %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTaskProcessor_ManualRunsOnlyApproved(t *testing.T) {
	f := newProcessorFixture(t, model.ExecutionModeManual)
	ctx := context.Background()
	pending, err := f.queue.Enqueue(ctx, model.TaskInput{UserMessage: "a"}, usecase.EnqueueOptions{Priority: model.PriorityCritical})
	require.NoError(t, err)
	approved, err := f.queue.Enqueue(ctx, model.TaskInput{UserMessage: "b"}, usecase.EnqueueOptions{Priority: model.PriorityLow})
	require.NoError(t, err)
	_, err = f.queue.Approve(ctx, approved.ID)
	require.NoError(t, err)

	stop := f.start(t)
	defer stop()

	f.expectRun(t, approved.ID)
	f.expectIdle(t)

	got, err := f.queue.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.Equal(t, 0, f.queue.Running())
}

func TestTaskProcessor_KickDrainsPending(t *testing.T) {
	f := newProcessorFixture(t, model.ExecutionModeSemiAuto)
	stop := f.start(t)
	defer stop()
	f.expectIdle(t)

	task, err := f.queue.Enqueue(context.Background(), model.TaskInput{UserMessage: "go"}, usecase.EnqueueOptions{})
	require.NoError(t, err)
	f.proc.Kick()
	f.expectRun(t, task.ID)
}

func TestTaskProcessor_RecoversStaleOnStart(t *testing.T) {
	f := newProcessorFixture(t, model.ExecutionModeSemiAuto)
	ctx := context.Background()
	stale := &model.Task{ID: "task_stale", Type: model.TaskTypeCodeGeneration, Priority: model.PriorityMedium,
		Status: model.TaskStatusRunning, MaxRetries: 5, CreatedAt: time.Now()}
	require.NoError(t, f.store.Tasks.Create(ctx, nil, stale))

	stop := f.start(t)
	defer stop()
	f.expectRun(t, "task_stale")

	got, err := f.queue.Get(ctx, "task_stale")
	require.NoError(t, err)
	assert.Equal(t, 0, got.RetryCount, "recovery does not consume a retry")
}

func TestTaskProcessor_ReleasesWhenPoolRejects(t *testing.T) {
	f := newProcessorFixture(t, model.ExecutionModeSemiAuto)
	ctx := context.Background()
	// a pool that is never started and already full
	f.pool = NewPool(1, logging.Nop())
	for i := 0; i < 4; i++ {
		require.NoError(t, f.pool.Submit(func(context.Context) error { return nil }))
	}
	f.proc.pool = f.pool
	task, err := f.queue.Enqueue(ctx, model.TaskInput{UserMessage: "x"}, usecase.EnqueueOptions{})
	require.NoError(t, err)

	f.proc.drain(ctx)

	got, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.Equal(t, 0, f.queue.Running())
	f.pool.Stop()
}

func TestTaskProcessor_BudgetPausesAdmissionAndLogsOnce(t *testing.T) {
	f := newProcessorFixture(t, model.ExecutionModeSemiAuto)
	ctx := context.Background()
	s := model.DefaultSettings()
	s.ExecutionMode = model.ExecutionModeSemiAuto
	s.BudgetLimit = 1
	require.NoError(t, f.store.Settings.Save(ctx, nil, &s))
	require.NoError(t, f.store.Costs.Append(ctx, nil, model.CostEntry{Cost: 1.5}))

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	// never started, so nothing runs concurrently with the buffer
	pool := NewPool(2, logging.Nop())
	proc := NewTaskProcessor(f.queue, f.runner, f.store.Settings, f.store.Costs, pool,
		red.NewLocker(red.NewMemoryClient()), ProcessorConfig{PollInterval: time.Hour}, &logger)
	task, err := f.queue.Enqueue(ctx, model.TaskInput{UserMessage: "x"}, usecase.EnqueueOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		proc.drain(ctx)
	}
	got, err := f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.Equal(t, 0, f.queue.Running())
	assert.Equal(t, 1, strings.Count(buf.String(), "budget exhausted"))

	require.NoError(t, f.store.Costs.ReplaceAll(ctx, nil, nil))
	proc.drain(ctx)
	got, err = f.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusRunning, got.Status)
	assert.Equal(t, 1, strings.Count(buf.String(), "resuming task admission"))
	pool.Stop()
}

func TestCleanupWorker_RunOnce(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	old := model.NewConversationLog("old", "", "task_1")
	old.Timestamp = now.AddDate(0, 0, -31)
	recent := model.NewConversationLog("recent", "", "task_2")
	recent.Timestamp = now.AddDate(0, 0, -2)
	require.NoError(t, store.Logs.Append(ctx, nil, old))
	require.NoError(t, store.Logs.Append(ctx, nil, recent))

	w := NewCleanupWorker(time.Hour, store.Settings, store.Logs, logging.Nop())
	w.now = func() time.Time { return now }

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	logs, err := store.Logs.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "recent", logs[0].UserMessage)
}
