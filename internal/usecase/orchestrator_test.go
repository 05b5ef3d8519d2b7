package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/infra/logging"
)

const (
	authorTODO  = `{"summary":"app","is_coding_task":true,"files":[{"path":"app.ts","content":"export const x = 1 // TODO","action":"create"}],"commands":["npm i"],"git_message":"feat: app"}`
	authorClean = "Here you go:\n```json\n{\"summary\":\"clean\",\"files\":[{\"path\":\"app.ts\",\"content\":\"export const x = 1\"}],\"git_message\":\"feat: clean\"}\n```"
	reviewPass  = `{"score":92,"passed":true,"issues":[],"summary":"lgtm"}`
	reviewFail  = `{"score":40,"passed":false,"issues":[{"severity":"major","file":"app.ts","description":"missing export"}]}`
	noTests     = `{"test_files":[],"summary":"none"}`
	fixTODO     = `{"root_cause":"marker","files":[{"path":"app.ts","content":"export const x = 1"}],"git_message":"fix: marker"}`
)

func newTestOrchestrator(llm adapter.LLMClient, maxIter int) *Orchestrator {
	return NewOrchestrator(llm, OrchestratorConfig{MaxIterations: maxIter, ReviewThreshold: 70}, logging.Nop())
}

func newRunTask(tier int) *model.Task {
	return &model.Task{
		ID:                "task_1",
		Input:             model.TaskInput{UserMessage: "build app", AssistantResponse: "design", ExistingFiles: map[string]string{}},
		CurrentModelIndex: tier,
	}
}

func TestOrchestrator_FixesStaticDefects(t *testing.T) {
	llm := newMockLLM().
		on(AuthorSystemPrompt, says(authorTODO)).
		on(ReviewerSystemPrompt, says(reviewPass)).
		on(TesterSystemPrompt, says(noTests)).
		on(FixerSystemPrompt, says(fixTODO))
	o := newTestOrchestrator(llm, 10)

	var stages []Stage
	out, err := o.Run(context.Background(), newRunTask(0), RunOptions{
		OnProgress: func(p Progress) {
			if p.Status == "running" {
				stages = append(stages, p.Stage)
			}
		},
	})
	require.NoError(t, err)

	want := []model.FileEdit{{Path: "app.ts", Content: "export const x = 1", Action: model.FileActionCreate, Language: "typescript"}}
	if diff := cmp.Diff(want, out.Files); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []Stage{StageAuthor, StageReview, StageTest, StageStaticCheck, StageFix, StageStaticCheck}, stages)
	assert.Equal(t, "app", out.Summary)
	assert.Equal(t, "feat: app", out.GitMessage)
	assert.Equal(t, []string{"npm i"}, out.Commands)
	assert.True(t, out.IsCodingTask)
	assert.Len(t, llm.callsFor(AuthorSystemPrompt), 1)
}

func TestOrchestrator_NonCodingTerminatesInOnePass(t *testing.T) {
	llm := newMockLLM().on(AuthorSystemPrompt, says(`{"is_coding_task":false,"summary":"chat","files":[],"questions":"Which framework, exactly?"}`))
	o := newTestOrchestrator(llm, 10)

	var last Progress
	out, err := o.Run(context.Background(), newRunTask(0), RunOptions{OnProgress: func(p Progress) { last = p }})
	require.NoError(t, err)
	assert.False(t, out.IsCodingTask)
	assert.Empty(t, out.Files)
	assert.NotNil(t, out.Files)
	require.NotNil(t, out.Questions)
	assert.Equal(t, "Which framework, exactly?", *out.Questions)
	assert.Equal(t, 1, last.Iteration)
	assert.Equal(t, StageDone, last.Stage)
	assert.Len(t, llm.calls, 1)
}

func TestOrchestrator_NonCodingWithListOfQuestions(t *testing.T) {
	llm := newMockLLM().on(AuthorSystemPrompt, says(`{"is_coding_task":false,"questions":["Which DB?"]}`))
	o := newTestOrchestrator(llm, 10)

	out, err := o.Run(context.Background(), newRunTask(0), RunOptions{})
	require.NoError(t, err)
	assert.False(t, out.IsCodingTask)
	require.NotNil(t, out.Questions)
	assert.Equal(t, "Which DB?", *out.Questions)
	assert.Empty(t, llm.callsFor(ReviewerSystemPrompt), "no review for a non-coding answer")
	assert.Len(t, llm.calls, 1)
}

func TestOrchestrator_ReviewFailureReentersAuthorWithIssues(t *testing.T) {
	llm := newMockLLM().
		on(AuthorSystemPrompt, says(authorClean)).
		on(ReviewerSystemPrompt, says(reviewFail), says(reviewPass)).
		on(TesterSystemPrompt, says(noTests))
	o := newTestOrchestrator(llm, 10)

	out, err := o.Run(context.Background(), newRunTask(0), RunOptions{})
	require.NoError(t, err)
	require.Len(t, out.Files, 1)

	authors := llm.callsFor(AuthorSystemPrompt)
	require.Len(t, authors, 2)
	assert.NotContains(t, authors[0].Messages[0].Content, "Review issues:")
	assert.Contains(t, authors[1].Messages[0].Content, "Review issues:\n[major] app.ts: missing export")
	assert.Empty(t, llm.callsFor(FixerSystemPrompt))
}

func TestOrchestrator_ReviewRunsOnCheapestTier(t *testing.T) {
	llm := newMockLLM().
		on(AuthorSystemPrompt, says(authorClean)).
		on(ReviewerSystemPrompt, says(reviewPass)).
		on(TesterSystemPrompt, says(noTests))
	o := newTestOrchestrator(llm, 10)

	out, err := o.Run(context.Background(), newRunTask(2), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.ModelTiers[2].ID, out.Model)
	assert.Equal(t, model.ModelTiers[2].ID, llm.callsFor(AuthorSystemPrompt)[0].Model)
	assert.Equal(t, model.ModelTiers[0].ID, llm.callsFor(ReviewerSystemPrompt)[0].Model)
}

func TestOrchestrator_AdvisoryFailuresDegrade(t *testing.T) {
	boom := &adapter.TransientError{Provider: "test", StatusCode: 529, Message: "overloaded"}
	llm := newMockLLM().
		on(AuthorSystemPrompt, says(authorClean)).
		on(ReviewerSystemPrompt, errs(boom)).
		on(TesterSystemPrompt, errs(boom))
	o := newTestOrchestrator(llm, 10)

	out, err := o.Run(context.Background(), newRunTask(0), RunOptions{})
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	assert.Equal(t, "app.ts", out.Files[0].Path)
}

func TestOrchestrator_FixFailureKeepsFilesAndExhausts(t *testing.T) {
	llm := newMockLLM().
		on(AuthorSystemPrompt, says(authorTODO)).
		on(ReviewerSystemPrompt, says(reviewPass)).
		on(TesterSystemPrompt, says(noTests)).
		on(FixerSystemPrompt, errs(errors.New("fixer down")))
	o := newTestOrchestrator(llm, 3)

	var last Progress
	_, err := o.Run(context.Background(), newRunTask(0), RunOptions{OnProgress: func(p Progress) { last = p }})
	require.ErrorIs(t, err, domain.ErrIterationBudgetExceeded)
	assert.Equal(t, StageExhausted, last.Stage)
	assert.Equal(t, 3, last.Iteration)
	assert.Len(t, llm.callsFor(FixerSystemPrompt), 3)
}

func TestOrchestrator_AuthorFailureEscalates(t *testing.T) {
	llm := newMockLLM().
		on(AuthorSystemPrompt, errs(&adapter.TransientError{Provider: "test", StatusCode: 500}), says(authorClean)).
		on(ReviewerSystemPrompt, says(reviewPass)).
		on(TesterSystemPrompt, says(noTests))
	o := newTestOrchestrator(llm, 10)

	out, err := o.Run(context.Background(), newRunTask(0), RunOptions{AutoUpgrade: true})
	require.NoError(t, err)
	authors := llm.callsFor(AuthorSystemPrompt)
	require.Len(t, authors, 2)
	assert.Equal(t, model.ModelTiers[0].ID, authors[0].Model)
	assert.Equal(t, model.ModelTiers[1].ID, authors[1].Model)
	assert.Equal(t, model.ModelTiers[1].ID, out.Model)
}

func TestOrchestrator_AuthorFailurePropagatesWithoutUpgrade(t *testing.T) {
	fatal := &adapter.FatalError{Provider: "test", StatusCode: 401, Message: "bad key"}
	llm := newMockLLM().on(AuthorSystemPrompt, errs(fatal))
	o := newTestOrchestrator(llm, 10)

	_, err := o.Run(context.Background(), newRunTask(0), RunOptions{AutoUpgrade: false})
	require.Error(t, err)
	assert.True(t, adapter.IsFatal(err))

	// at the top tier there is nothing to escalate to
	llm = newMockLLM().on(AuthorSystemPrompt, errs(fatal))
	o = newTestOrchestrator(llm, 10)
	_, err = o.Run(context.Background(), newRunTask(model.LastTierIndex()), RunOptions{AutoUpgrade: true})
	require.Error(t, err)
	assert.Len(t, llm.calls, 1)
}

func TestOrchestrator_UnparsableAuthorAdvancesWithNoFiles(t *testing.T) {
	llm := newMockLLM().
		on(AuthorSystemPrompt, says("sorry, I cannot produce JSON today")).
		on(ReviewerSystemPrompt, says(reviewPass)).
		on(TesterSystemPrompt, says(noTests))
	o := newTestOrchestrator(llm, 10)

	task := newRunTask(0)
	task.Input.ExistingFiles = map[string]string{"keep.md": "# hi"}
	out, err := o.Run(context.Background(), task, RunOptions{})
	require.NoError(t, err)
	assert.True(t, out.IsCodingTask)
	require.Len(t, out.Files, 1)
	assert.Equal(t, "keep.md", out.Files[0].Path)
	assert.Equal(t, "markdown", out.Files[0].Language)
}

func TestOrchestrator_CostIsSumOfEntries(t *testing.T) {
	llm := newMockLLM().
		on(AuthorSystemPrompt, says(authorTODO)).
		on(ReviewerSystemPrompt, says(reviewPass)).
		on(TesterSystemPrompt, says(`{"test_files":[{"path":"app.test.ts","content":"it('x', () => {})","covers":["app.ts"]}]}`)).
		on(FixerSystemPrompt, says(fixTODO))
	o := newTestOrchestrator(llm, 10)

	var entries []model.CostEntry
	out, err := o.Run(context.Background(), newRunTask(1), RunOptions{OnCost: func(e model.CostEntry) { entries = append(entries, e) }})
	require.NoError(t, err)

	require.Len(t, entries, 4)
	var sum float64
	for _, e := range entries {
		assert.Equal(t, "task_1", e.TaskID)
		sum += e.Cost
	}
	assert.Equal(t, sum, out.Cost)
	assert.Equal(t, model.ModelTiers[0].ID, entries[1].Model)
	assert.Len(t, out.Files, 2)
}

func TestOrchestrator_DeleteEditRemovesFile(t *testing.T) {
	llm := newMockLLM().
		on(AuthorSystemPrompt, says(`{"files":[{"path":"old.ts","action":"delete"},{"path":"new.ts","content":"export {}"}]}`)).
		on(ReviewerSystemPrompt, says(reviewPass)).
		on(TesterSystemPrompt, says(noTests))
	o := newTestOrchestrator(llm, 10)

	task := newRunTask(0)
	task.Input.ExistingFiles = map[string]string{"old.ts": "export const y = 2"}
	out, err := o.Run(context.Background(), task, RunOptions{})
	require.NoError(t, err)
	require.Len(t, out.Files, 1)
	assert.Equal(t, "new.ts", out.Files[0].Path)
	assert.Equal(t, "export const y = 2", task.Input.ExistingFiles["old.ts"], "input files must not be mutated")
}

func TestOrchestrator_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := newTestOrchestrator(newMockLLM(), 10)
	_, err := o.Run(ctx, newRunTask(0), RunOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransitionTable_RejectsUnknownEvents(t *testing.T) {
	_, err := nextStage(StageReview, evFixed)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	to, err := nextStage(StageFix, evFixed)
	require.NoError(t, err)
	assert.Equal(t, StageStaticCheck, to)
}
