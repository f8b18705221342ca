// Package wire assembles the application from its components.
package wire

import (
	"context"
	"errors"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/google/wire"

	"github.com/sevigo/review-pipeline/internal/app"
	"github.com/sevigo/review-pipeline/internal/config"
	"github.com/sevigo/review-pipeline/internal/core"
	"github.com/sevigo/review-pipeline/internal/db"
	"github.com/sevigo/review-pipeline/internal/github"
	"github.com/sevigo/review-pipeline/internal/jobs"
	"github.com/sevigo/review-pipeline/internal/llm"
	"github.com/sevigo/review-pipeline/internal/logger"
	"github.com/sevigo/review-pipeline/internal/quota"
	"github.com/sevigo/review-pipeline/internal/rules"
	"github.com/sevigo/review-pipeline/internal/server"
	"github.com/sevigo/review-pipeline/internal/server/handler"
	"github.com/sevigo/review-pipeline/internal/storage"
)

// AppSet provides everything InitializeApp needs.
var AppSet = wire.NewSet(
	config.LoadConfig,
	app.NewApp,
	server.NewServer,
	github.NewClientFactory,
	llm.NewPromptManager,
	llm.NewTokenCounter,
	provideLogger,
	provideJobStore,
	provideRedisClient,
	provideQuotaGate,
	provideLedger,
	provideLocker,
	provideRules,
	provideFetcher,
	provideSink,
	provideRegistry,
	provideExecutor,
	provideScheduler,
	provideReviewService,
)

func provideLogger(cfg *config.Config) *slog.Logger {
	return logger.NewLogger(cfg.Logging, nil)
}

// provideJobStore opens Postgres only when it backs the queue.
func provideJobStore(cfg *config.Config, logger *slog.Logger) (core.JobStore, func(), error) {
	if cfg.Queue.Backend != "postgres" {
		logger.Warn("using in-memory job store, queued jobs are lost on restart")
		return storage.NewMemoryJobStore(), func() {}, nil
	}
	conn, cleanup, err := db.NewDatabase(&cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgresJobStore(conn.DB), cleanup, nil
}

// provideRedisClient connects only when Redis holds the shared state. A nil
// client selects the in-process quota gate, ledger and lock.
func provideRedisClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*redis.Client, func(), error) {
	if cfg.Quota.Backend != "redis" {
		return nil, func() {}, nil
	}
	return storage.NewRedisClient(ctx, &cfg.Redis, logger)
}

func provideQuotaGate(cfg *config.Config, cli *redis.Client) core.QuotaGate {
	limits := quota.Limits(cfg.Quota.Limits)
	if cli == nil {
		return quota.NewMemoryGate(limits)
	}
	return quota.NewRedisGate(cli, limits)
}

func provideLedger(cfg *config.Config, cli *redis.Client) core.DeliveryLedger {
	if cli == nil {
		return storage.NewMemoryLedger(cfg.Pipeline.DedupWindow)
	}
	return storage.NewRedisLedger(cli, cfg.Pipeline.DedupWindow)
}

func provideLocker(cli *redis.Client) core.Locker {
	if cli == nil {
		return storage.NewMemoryLocker()
	}
	return storage.NewRedisLocker(cli)
}

// provideRules tolerates a missing rules file; every account then gets the
// default instructions only.
func provideRules(cfg *config.Config, logger *slog.Logger) (core.RulesSource, error) {
	src, err := rules.Load(cfg.Pipeline.RulesFile)
	if errors.Is(err, rules.ErrRulesNotFound) {
		logger.Info("no account rules file found, using defaults", "path", cfg.Pipeline.RulesFile)
		return src, nil
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

func provideFetcher(cfg *config.Config, clients github.ClientFactory, logger *slog.Logger) core.ContextFetcher {
	return github.NewFetcher(clients, cfg.Pipeline.MaxFiles, logger)
}

func provideSink(clients github.ClientFactory, logger *slog.Logger) core.DeliverySink {
	return github.NewSink(clients, logger)
}

func provideRegistry(cfg *config.Config, prompts *llm.PromptManager, logger *slog.Logger) jobs.ProviderResolver {
	return llm.NewRegistry(prompts, llm.Options{MaxOutputTokens: cfg.AI.MaxOutputTokens}, logger)
}

func provideExecutor(
	cfg *config.Config,
	store core.JobStore,
	fetcher core.ContextFetcher,
	sink core.DeliverySink,
	gate core.QuotaGate,
	ledger core.DeliveryLedger,
	locker core.Locker,
	rulesSrc core.RulesSource,
	providers jobs.ProviderResolver,
	tokens llm.TokenCounter,
	logger *slog.Logger,
) *jobs.Executor {
	return jobs.NewExecutor(jobs.ExecutorDeps{
		Store:       store,
		Fetcher:     fetcher,
		Sink:        sink,
		Gate:        gate,
		Ledger:      ledger,
		Locker:      locker,
		Rules:       rulesSrc,
		Providers:   providers,
		Tokens:      tokens,
		Credentials: cfg.WithCredentials,
	}, jobs.ExecutorConfig{
		FetchTimeout:    cfg.Pipeline.FetchTimeout,
		ReviewTimeout:   cfg.Pipeline.ReviewTimeout,
		DeliverTimeout:  cfg.Pipeline.DeliverTimeout,
		MaxDiffBytes:    cfg.Pipeline.MaxDiffBytes,
		MaxContextBytes: cfg.Pipeline.MaxContextBytes,
		MaxPromptTokens: cfg.Pipeline.MaxPromptTokens,
		LockTTL:         cfg.Queue.LeaseTTL,
	}, logger)
}

func provideScheduler(cfg *config.Config, store core.JobStore, executor *jobs.Executor, logger *slog.Logger) *jobs.Scheduler {
	return jobs.NewScheduler(store, executor, jobs.SchedulerConfig{
		Workers:     cfg.Queue.Workers,
		MaxAttempts: cfg.Queue.MaxAttempts,
		Backoff: jobs.Backoff{
			Base:   cfg.Queue.BaseBackoff,
			Max:    cfg.Queue.MaxBackoff,
			Jitter: 0.2,
		},
		PollInterval:    cfg.Queue.PollInterval,
		LeaseTTL:        cfg.Queue.LeaseTTL,
		DefaultProvider: cfg.DefaultProvider(),
	}, logger)
}

func provideReviewService(s *jobs.Scheduler) handler.ReviewService {
	return s
}
