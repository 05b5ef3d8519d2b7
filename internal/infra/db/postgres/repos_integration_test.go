//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
)

func newTask(id string, created time.Time) *model.Task {
	return &model.Task{
		ID:         id,
		Type:       model.TaskTypeCodeGeneration,
		Priority:   model.PriorityMedium,
		Status:     model.TaskStatusPending,
		Input:      model.TaskInput{UserMessage: "build it", ExistingFiles: map[string]string{"a.ts": "x"}},
		MaxRetries: 5,
		CreatedAt:  created.UTC().Truncate(time.Microsecond),
	}
}

func TestTaskRepo_Integration(t *testing.T) {
	ctx := context.Background()
	tm := NewTxManager(testPool)
	repo := NewTaskRepo(testPool, tm)
	now := time.Now()

	t.Run("create, find and list in creation order", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, repo.Create(ctx, nil, newTask("task_b", now.Add(time.Second))))
		require.NoError(t, repo.Create(ctx, nil, newTask("task_a", now)))

		err := repo.Create(ctx, nil, newTask("task_a", now))
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)

		got, err := repo.FindByID(ctx, nil, "task_a")
		require.NoError(t, err)
		assert.Equal(t, "x", got.Input.ExistingFiles["a.ts"])

		list, err := repo.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "task_a", list[0].ID)

		_, err = repo.FindByID(ctx, nil, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("update is serialised and a mutator error aborts", func(t *testing.T) {
		cleanup(t)
		require.NoError(t, repo.Create(ctx, nil, newTask("task_c", now)))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Update(ctx, "task_c", func(t *model.Task) error {
					t.RetryCount++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.FindByID(ctx, nil, "task_c")
		require.NoError(t, err)
		assert.Equal(t, 10, got.RetryCount)

		stop := errors.New("stop")
		_, err = repo.Update(ctx, "task_c", func(t *model.Task) error {
			t.Status = model.TaskStatusFailed
			return stop
		})
		assert.ErrorIs(t, err, stop)
		got, _ = repo.FindByID(ctx, nil, "task_c")
		assert.Equal(t, model.TaskStatusPending, got.Status)

		_, err = repo.Update(ctx, "missing", func(*model.Task) error { return nil })
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestSettingsRepo_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewSettingsRepo(testPool)

	got, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSettings(), *got)

	got.ExecutionMode = model.ExecutionModeFullAuto
	require.NoError(t, repo.Save(ctx, nil, got))
	again, err := repo.Get(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionModeFullAuto, again.ExecutionMode)
}

func TestConversationLogRepo_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	repo := NewConversationLogRepo(testPool, NewTxManager(testPool))

	old := model.NewConversationLog("old", "", "task_1")
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	fresh := model.NewConversationLog("new", "", "task_2")
	require.NoError(t, repo.Append(ctx, nil, old))
	require.NoError(t, repo.Append(ctx, nil, fresh))

	cost := 1.5
	require.NoError(t, repo.UpdateStatusByTask(ctx, "task_2", model.LogStatusCompleted, &cost))
	assert.ErrorIs(t, repo.UpdateStatusByTask(ctx, "task_x", model.LogStatusFailed, nil), domain.ErrNotFound)

	n, err := repo.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	logs, err := repo.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.LogStatusCompleted, logs[0].Status)
	assert.Equal(t, 1.5, logs[0].Cost)
}

func TestFileSnapshotAndCostRepos_Integration(t *testing.T) {
	cleanup(t)
	ctx := context.Background()
	tm := NewTxManager(testPool)
	files := NewFileSnapshotRepo(testPool, tm)
	costs := NewCostLedgerRepo(testPool, tm)

	require.NoError(t, files.ReplaceAll(ctx, nil, map[string]string{"a.ts": "1", "b.ts": "2"}))
	require.NoError(t, files.Apply(ctx, []model.FileEdit{
		{Path: "a.ts", Content: "updated", Action: model.FileActionModify},
		{Path: "b.ts", Action: model.FileActionDelete},
		{Path: "c.ts", Content: "3", Action: model.FileActionCreate},
	}))
	got, err := files.GetAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.ts": "updated", "c.ts": "3"}, got)

	at := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, costs.Append(ctx, nil,
		model.NewCostEntry("task_1", "claude-haiku-4-5", 1000, 500, at),
		model.NewCostEntry("task_1", "claude-sonnet-4", 1000, 500, at),
	))
	total, err := costs.Total(ctx, nil)
	require.NoError(t, err)
	entries, err := costs.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.InDelta(t, model.SumCost(entries), total, 1e-9)
}
