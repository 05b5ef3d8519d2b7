package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"omnicoder/internal/domain"
	"omnicoder/internal/domain/model"
	"omnicoder/internal/domain/ports/adapter"
	"omnicoder/internal/infra/logging"
	"omnicoder/internal/infra/metrics"
)

// Stage is a state of the generation loop.
type Stage string

const (
	StageAuthor      Stage = "author"
	StageReview      Stage = "review"
	StageTest        Stage = "test"
	StageStaticCheck Stage = "static_check"
	StageFix         Stage = "fix"
	StageDone        Stage = "done"
	StageExhausted   Stage = "exhausted"
)

func (s Stage) terminal() bool { return s == StageDone || s == StageExhausted }

type loopEvent string

const (
	evAuthored    loopEvent = "authored"
	evNotCoding   loopEvent = "not_coding"
	evEscalated   loopEvent = "escalated"
	evReviewPass  loopEvent = "review_pass"
	evReviewFail  loopEvent = "review_fail"
	evTested      loopEvent = "tested"
	evClean       loopEvent = "clean"
	evDefects     loopEvent = "defects"
	evFixed       loopEvent = "fixed"
	evBudgetSpent loopEvent = "budget_spent"
)

// loopTransitions is the complete transition table; anything missing is a programming error.
var loopTransitions = map[Stage]map[loopEvent]Stage{
	StageAuthor: {
		evAuthored:    StageReview,
		evNotCoding:   StageDone,
		evEscalated:   StageAuthor,
		evBudgetSpent: StageExhausted,
	},
	StageReview: {
		evReviewPass: StageTest,
		evReviewFail: StageAuthor,
	},
	StageTest: {
		evTested: StageStaticCheck,
	},
	StageStaticCheck: {
		evClean:       StageDone,
		evDefects:     StageFix,
		evBudgetSpent: StageExhausted,
	},
	StageFix: {
		evFixed: StageStaticCheck,
	},
}

func nextStage(from Stage, ev loopEvent) (Stage, error) {
	if to, ok := loopTransitions[from][ev]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, ev, from)
}

// Progress is published on every stage transition.
type Progress struct {
	TaskID        string
	Iteration     int
	MaxIterations int
	Stage         Stage
	Model         string
	Status        string
	Cost          float64
	Files         []model.FileEdit // set on the final transition only
}

type RunOptions struct {
	AutoUpgrade bool
	OnProgress  func(Progress)
	OnCost      func(model.CostEntry)
}

type OrchestratorConfig struct {
	MaxIterations   int
	ReviewThreshold int
	MaxTokens       int
}

// Orchestrator drives one task through author, review, test, static check and fix.
// It keeps no state between runs.
type Orchestrator struct {
	llm adapter.LLMClient
	cfg OrchestratorConfig
	log *zerolog.Logger
	now func() time.Time
}

func NewOrchestrator(llm adapter.LLMClient, cfg OrchestratorConfig, logger *zerolog.Logger) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 10
	}
	if cfg.ReviewThreshold <= 0 {
		cfg.ReviewThreshold = 70
	}
	l := logger.With().Str("component", "orchestrator").Logger()
	return &Orchestrator{llm: llm, cfg: cfg, log: &l, now: time.Now}
}

// run is the per-invocation state.
type run struct {
	task      *model.Task
	opts      RunOptions
	log       *zerolog.Logger
	tier      int
	iteration int
	design    string
	files     map[string]string
	ledger    model.CostLedger
	author    AuthorResult
	defects   []string
}

func (o *Orchestrator) Run(ctx context.Context, task *model.Task, opts RunOptions) (*model.TaskOutput, error) {
	r := &run{
		task:   task,
		opts:   opts,
		log:    logging.With(logging.WithTaskID(ctx, task.ID), o.log),
		tier:   model.ClampTierIndex(task.CurrentModelIndex),
		design: task.Input.AssistantResponse,
		files:  model.CloneFiles(task.Input.ExistingFiles),
	}

	stage := StageAuthor
	prev := Stage("")
	for !stage.terminal() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Each Author entry and each post-fix re-check is one pass.
		if stage == StageAuthor || (stage == StageStaticCheck && prev == StageFix) {
			if r.iteration >= o.cfg.MaxIterations {
				next, err := nextStage(stage, evBudgetSpent)
				if err != nil {
					return nil, err
				}
				prev, stage = stage, next
				continue
			}
			r.iteration++
		}

		o.emit(r, stage, "running", nil)

		ev, err := o.step(ctx, r, stage)
		if err != nil {
			metrics.ObserveRun("error", r.iteration)
			o.emit(r, stage, "failed", nil)
			return nil, err
		}
		next, err := nextStage(stage, ev)
		if err != nil {
			return nil, err
		}
		r.log.Debug().Str("stage", string(stage)).Str("event", string(ev)).Str("next", string(next)).Int("iteration", r.iteration).Msg("stage transition")
		prev, stage = stage, next
	}

	if stage == StageExhausted {
		metrics.ObserveRun("exhausted", r.iteration)
		o.emit(r, StageExhausted, "exhausted", nil)
		return nil, fmt.Errorf("%w: %d iterations", domain.ErrIterationBudgetExceeded, o.cfg.MaxIterations)
	}

	out := o.output(r)
	metrics.ObserveRun("done", r.iteration)
	o.emit(r, StageDone, "completed", out.Files)
	return out, nil
}

func (o *Orchestrator) step(ctx context.Context, r *run, stage Stage) (loopEvent, error) {
	switch stage {
	case StageAuthor:
		return o.authorStep(ctx, r)
	case StageReview:
		return o.reviewStep(ctx, r), nil
	case StageTest:
		return o.testStep(ctx, r), nil
	case StageStaticCheck:
		r.defects = StaticCheck(r.files)
		if len(r.defects) == 0 {
			metrics.IncStage(string(stage), "clean")
			return evClean, nil
		}
		metrics.IncStage(string(stage), "defects")
		r.log.Info().Int("defects", len(r.defects)).Msg("static check found defects")
		return evDefects, nil
	case StageFix:
		return o.fixStep(ctx, r), nil
	}
	return "", fmt.Errorf("%w: no handler for %s", domain.ErrInvalidTransition, stage)
}

func (o *Orchestrator) authorStep(ctx context.Context, r *run) (loopEvent, error) {
	prompt := BuildAuthorPrompt(r.task.Input.UserMessage, r.design, r.files)
	text, err := o.call(ctx, r, r.tier, AuthorSystemPrompt, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if r.opts.AutoUpgrade && r.tier < model.LastTierIndex() {
			r.tier++
			metrics.IncStage(string(StageAuthor), "escalated")
			r.log.Warn().Err(err).Str("model", model.TierAt(r.tier).ID).Msg("author call failed, escalating tier")
			return evEscalated, nil
		}
		metrics.IncStage(string(StageAuthor), "error")
		return "", fmt.Errorf("author stage: %w", err)
	}

	res := parseAuthor(text)
	r.author = res
	if !res.IsCodingTask {
		metrics.IncStage(string(StageAuthor), "not_coding")
		return evNotCoding, nil
	}
	model.ApplyEdits(r.files, res.Files)
	metrics.IncStage(string(StageAuthor), "ok")
	return evAuthored, nil
}

func (o *Orchestrator) reviewStep(ctx context.Context, r *run) loopEvent {
	var review ReviewResult
	text, err := o.call(ctx, r, 0, ReviewerSystemPrompt, BuildReviewerPrompt(r.files))
	if err != nil {
		r.log.Warn().Err(err).Msg("review call failed, treating as passed")
		review = skippedReview()
	} else {
		review = parseReview(text, o.cfg.ReviewThreshold)
	}

	if review.Passed {
		metrics.IncStage(string(StageReview), "passed")
		return evReviewPass
	}
	metrics.IncStage(string(StageReview), "failed")
	r.log.Info().Float64("score", review.Score).Int("issues", len(review.Issues)).Msg("review failed")
	r.design = appendReviewIssues(r.design, review.Issues)
	return evReviewFail
}

func (o *Orchestrator) testStep(ctx context.Context, r *run) loopEvent {
	text, err := o.call(ctx, r, r.tier, TesterSystemPrompt, BuildTesterPrompt(r.files))
	if err != nil {
		metrics.IncStage(string(StageTest), "skipped")
		r.log.Warn().Err(err).Msg("test generation failed, continuing without tests")
		return evTested
	}
	model.ApplyEdits(r.files, parseTests(text))
	metrics.IncStage(string(StageTest), "ok")
	return evTested
}

func (o *Orchestrator) fixStep(ctx context.Context, r *run) loopEvent {
	text, err := o.call(ctx, r, r.tier, FixerSystemPrompt, BuildFixerPrompt(r.files, r.defects))
	if err != nil {
		metrics.IncStage(string(StageFix), "skipped")
		r.log.Warn().Err(err).Msg("fix call failed, files unchanged")
		return evFixed
	}
	model.ApplyEdits(r.files, parseFix(text))
	metrics.IncStage(string(StageFix), "ok")
	return evFixed
}

// call issues one request at the given tier and records its cost.
func (o *Orchestrator) call(ctx context.Context, r *run, tier int, system, prompt string) (string, error) {
	tierID := model.TierAt(tier).ID
	resp, err := o.llm.Call(ctx, adapter.LLMRequest{
		Model:     tierID,
		System:    system,
		Messages:  []adapter.Message{{Role: "user", Content: prompt}},
		MaxTokens: o.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	entry := model.NewCostEntry(r.task.ID, tierID, resp.Usage.InputTokens, resp.Usage.OutputTokens, o.now())
	r.ledger.Add(entry)
	metrics.AddCost(tierID, entry.Cost)
	if r.opts.OnCost != nil {
		r.opts.OnCost(entry)
	}
	return resp.Text(), nil
}

func (o *Orchestrator) output(r *run) *model.TaskOutput {
	out := &model.TaskOutput{
		Summary:      r.author.Summary,
		Files:        []model.FileEdit{},
		Commands:     r.author.Commands,
		GitMessage:   r.author.GitMessage,
		Cost:         r.ledger.Total(),
		Model:        model.TierAt(r.tier).ID,
		IsCodingTask: r.author.IsCodingTask,
		Questions:    r.author.Questions,
	}
	if out.Commands == nil {
		out.Commands = []string{}
	}
	if !r.author.IsCodingTask {
		return out
	}

	paths := make([]string, 0, len(r.files))
	for p := range r.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		out.Files = append(out.Files, model.FileEdit{
			Path:     p,
			Content:  r.files[p],
			Action:   model.FileActionCreate,
			Language: DetectLanguage(p),
		})
	}
	return out
}

func (o *Orchestrator) emit(r *run, stage Stage, status string, files []model.FileEdit) {
	if r.opts.OnProgress == nil {
		return
	}
	r.opts.OnProgress(Progress{
		TaskID:        r.task.ID,
		Iteration:     r.iteration,
		MaxIterations: o.cfg.MaxIterations,
		Stage:         stage,
		Model:         model.TierAt(r.tier).ID,
		Status:        status,
		Cost:          r.ledger.Total(),
		Files:         files,
	})
}
