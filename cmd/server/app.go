package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/monetize-consult/server/internal/config"
	"github.com/monetize-consult/server/internal/core"
	"github.com/monetize-consult/server/internal/notify"
	"github.com/monetize-consult/server/internal/store"
	"github.com/monetize-consult/server/internal/worker"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Debug() {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

// app holds the long-lived dependencies shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.SQLStore
	llm      *core.LLMService
	redis    *redis.Client
	pool     *worker.Pool
	notifier *notify.Notifier
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	codec, err := store.NewAESCodec(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	dbStore, err := store.Open(cfg.DatabaseURL, codec)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	llmService, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, logger.Named("llm"))
	if err != nil {
		dbStore.Close()
		return nil, err
	}

	var mailer notify.Mailer = notify.NewDisabledMailer(logger.Named("notify"))
	if cfg.EmailConfigured() {
		mailer = notify.NewResendMailer(cfg.ResendAPIKey, cfg.NotificationFrom, cfg.NotificationEmail)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    dbStore,
		llm:      llmService,
		pool:     worker.NewPool(cfg.DispatchWorkers, cfg.DispatchQueue, cfg.DispatchTaskTimeout, logger.Named("dispatch")),
		notifier: notify.NewNotifier(mailer),
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close(context.Background())
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at start-up, rate limiting will admit requests until it recovers", zap.Error(err))
		}
	} else {
		logger.Warn("REDIS_URL not set, rate limiting disabled")
	}
	return a, nil
}

func (a *app) insightService() *core.InsightService {
	return core.NewInsightService(a.store, a.llm, a.notifier, a.cfg.EvaluationModel, a.logger.Named("insights"))
}

// close drains the follow-up queue before releasing the store it writes to.
func (a *app) close(ctx context.Context) {
	if err := a.pool.Shutdown(ctx); err != nil {
		a.logger.Error("follow-up tasks abandoned", zap.Error(err))
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.llm.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("error closing database", zap.Error(err))
	}
}
