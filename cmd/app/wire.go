package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"omnicoder/internal/application"
	"omnicoder/internal/config"
	"omnicoder/internal/domain/ports/adapter"
	aiAdapters "omnicoder/internal/infra/adapters/ai"
	"omnicoder/internal/infra/adapters/agent"
	tele "omnicoder/internal/infra/adapters/telegram"
	"omnicoder/internal/infra/db/memory"
	pg "omnicoder/internal/infra/db/postgres"
	red "omnicoder/internal/infra/redis"
	"omnicoder/internal/infra/security"
	"omnicoder/internal/infra/worker"
	"omnicoder/internal/usecase"
)

// app is the fully wired object graph. Close releases pools and clients.
type app struct {
	cfg       *config.Config
	log       *zerolog.Logger
	db        *pgxpool.Pool
	cache     red.RedisClient
	limiter   *red.RateLimiter
	queue     *usecase.TaskQueue
	workers   *worker.Pool
	processor *worker.TaskProcessor
	cleanup   *worker.CleanupWorker
	bot       *tele.Bot
	facade    *application.ControlFacade
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// ---- Redis (or in-process stand-in) ----
	if cfg.Redis.URL != "" {
		c, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.cache = c
	} else {
		logger.Info().Msg("redis not configured; using in-process lock and rate limiter")
		a.cache = red.NewMemoryClient()
	}
	a.limiter = red.NewRateLimiter(a.cache)

	// ---- Storage ----
	repos, err := a.buildRepos(ctx)
	if err != nil {
		return nil, err
	}

	// ---- Encryption ----
	var crypto *security.EncryptionService
	if cfg.Security.EncryptionKey != "" {
		if crypto, err = security.NewEncryptionService(cfg.Security.EncryptionKey); err != nil {
			return nil, fmt.Errorf("encryption: %w", err)
		}
	} else {
		logger.Warn().Msg("security.encryption_key not set; the stored api key is not encrypted")
	}

	// ---- LLM stack ----
	multi, err := buildLLM(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	limited := aiAdapters.NewLimitedClient(multi, cfg.AI.ConcurrentLimit, cfg.AI.RequestsPerSecond)
	retrying := aiAdapters.NewRetryingClient(limited, aiAdapters.RetryConfig{
		MaxRetries: cfg.AI.MaxRetries,
		BaseDelay:  cfg.AI.BaseDelay,
		MaxDelay:   cfg.AI.MaxDelay,
	}, logger)
	orch := usecase.NewOrchestrator(retrying, usecase.OrchestratorConfig{
		MaxIterations:   cfg.Loop.MaxIterations,
		ReviewThreshold: cfg.Loop.ReviewThreshold,
		MaxTokens:       cfg.AI.MaxTokens,
	}, logger)

	// ---- Notifier ----
	var notifier adapter.Notifier
	if cfg.Telegram.Enabled {
		if a.bot, err = tele.NewBot(&cfg.Telegram, a.limiter, logger); err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		notifier = a.bot
	} else {
		notifier = tele.NewNoopNotifier(logger)
	}

	// ---- Scheduler ----
	settings, err := repos.Settings.Get(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	a.queue = usecase.NewTaskQueue(repos.Tasks, settings.MaxConcurrentTasks, logger)
	runner := usecase.NewTaskRunner(usecase.TaskRunnerDeps{
		Queue: a.queue,
		Gen:   orch,
		Agent: agent.NewCLIAgent(agent.Config{
			Command:  cfg.Bridge.Command,
			Workdir:  cfg.Bridge.Workdir,
			MaxTurns: cfg.Bridge.MaxTurns,
			Timeout:  cfg.Bridge.Timeout,
		}, logger),
		Settings: repos.Settings,
		Logs:     repos.Logs,
		Files:    repos.Files,
		Costs:    repos.Costs,
		Notifier: notifier,
	}, logger)
	a.workers = worker.NewPool(cfg.Scheduler.MaxConcurrent, logger)
	a.processor = worker.NewTaskProcessor(a.queue, runner, repos.Settings, repos.Costs, a.workers, red.NewLocker(a.cache),
		worker.ProcessorConfig{PollInterval: cfg.Scheduler.PollInterval, LockTTL: cfg.Scheduler.LockTTL}, logger)
	a.cleanup = worker.NewCleanupWorker(cfg.Scheduler.CleanupInterval, repos.Settings, repos.Logs, logger)

	// ---- Facade ----
	a.facade = application.NewControlFacade(application.FacadeDeps{
		Queue:       a.queue,
		Repos:       repos,
		LLM:         multi,
		Credentials: multi,
		Counter:     multi,
		Crypto:      crypto,
		Notifier:    notifier,
		Kicker:      a.processor,
		Cleaner:     a.cleanup,
		MaxTokens:   cfg.AI.MaxTokens,
	}, logger)
	if err := a.facade.LoadCredentials(ctx); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) buildRepos(ctx context.Context) (application.Repos, error) {
	if a.cfg.Storage.Driver != "postgres" {
		a.log.Info().Msg("using in-memory storage; data is lost on exit")
		s := memory.NewStore()
		return application.Repos{
			Tasks: s.Tasks, Settings: s.Settings, Logs: s.Logs,
			Files: s.Files, Costs: s.Costs, Tx: s.Tx,
		}, nil
	}

	if a.cfg.Database.Migrate {
		if err := pg.Migrate(a.cfg.Database.URL, a.log); err != nil {
			return application.Repos{}, err
		}
	}
	pool, err := pg.Connect(ctx, &a.cfg.Database)
	if err != nil {
		return application.Repos{}, err
	}
	a.db = pool
	tm := pg.NewTxManager(pool)

	var settings = pg.NewSettingsRepo(pool)
	repos := application.Repos{
		Tasks:    pg.NewTaskRepo(pool, tm),
		Settings: settings,
		Logs:     pg.NewConversationLogRepo(pool, tm),
		Files:    pg.NewFileSnapshotRepo(pool, tm),
		Costs:    pg.NewCostLedgerRepo(pool, tm),
		Tx:       tm,
	}
	if a.cfg.Redis.URL != "" {
		repos.Settings = pg.NewSettingsRepoCacheDecorator(settings, a.cache, a.cfg.Redis.TTL, a.log)
	}
	return repos, nil
}

// buildLLM registers every provider that has credentials. The noop provider is always present
// so dev runs work offline.
func buildLLM(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*aiAdapters.MultiAdapter, error) {
	ai := cfg.AI
	providers := map[string]adapter.LLMClient{
		"anthropic": aiAdapters.NewAnthropicAdapter(ai.AnthropicKey, ai.AnthropicBaseURL, ai.MaxTokens, ai.Timeout),
		"noop":      aiAdapters.NewNoopAIAdapter(logger),
	}
	if ai.OpenAIKey != "" {
		o, err := aiAdapters.NewOpenAIAdapter(ai.OpenAIKey, ai.OpenAIBaseURL, ai.MaxTokens, ai.Timeout)
		if err != nil {
			return nil, fmt.Errorf("openai adapter: %w", err)
		}
		providers["openai"] = o
	}
	if ai.GeminiKey != "" {
		g, err := aiAdapters.NewGeminiAdapter(ctx, ai.GeminiKey, ai.GeminiURL, ai.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("gemini adapter: %w", err)
		}
		providers["gemini"] = g
	}
	logger.Info().Str("provider", ai.Provider).Int("providers", len(providers)).Msg("llm providers ready")
	return aiAdapters.NewMultiAdapter(ai.Provider, providers, ai.ModelProviders, aiAdapters.NewTiktokenCounter(logger)), nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close redis")
		}
	}
}
