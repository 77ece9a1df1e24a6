package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/api"
	"github.com/monetize-consult/server/internal/auth"
	"github.com/monetize-consult/server/internal/config"
	"github.com/monetize-consult/server/internal/core"
	"github.com/monetize-consult/server/internal/ratelimit"
	"github.com/monetize-consult/server/internal/schedule"
)

const weeklyJobTimeout = 10 * time.Minute

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	kb, err := core.LoadKnowledgeBase(cfg.KnowledgeDir, logger.Named("knowledge"))
	if err != nil {
		a.close(context.Background())
		return err
	}

	relay := core.NewRelay(a.llm, logger.Named("relay"))
	followUps := core.NewFollowUps(a.store, a.notifier, a.pool)
	insights := a.insightService()
	services := api.Services{
		Chat:       core.NewChatService(a.store, relay, followUps, kb, core.StreamOptions{Model: cfg.ChatModel, Timeout: cfg.ChatTimeout}, logger.Named("chat")),
		Evaluation: core.NewEvaluationService(a.store, relay, followUps, core.StreamOptions{Model: cfg.EvaluationModel, Timeout: cfg.EvaluationTimeout}, logger.Named("evaluate")),
		Feedback:   core.NewFeedbackService(a.store, a.notifier, a.pool),
		Sessions:   core.NewSessionService(a.store),
		Insights:   insights,
	}

	// An unset REDIS_URL must reach the limiter as an untyped nil.
	var scripter redis.Scripter
	if a.redis != nil {
		scripter = a.redis
	}
	limiter := ratelimit.New(scripter, ratelimit.Quotas{
		Chat:       cfg.ChatQuota,
		ChatAuthed: cfg.ChatQuotaAuthed,
		Eval:       cfg.EvalQuota,
		EvalAuthed: cfg.EvalQuotaAuthed,
	}, cfg.RateLimitWindow, logger.Named("ratelimit"))

	tokens := auth.NewValidator(cfg.JWTSecret)
	if !tokens.Enabled() {
		logger.Warn("JWT_SECRET not set, every request is treated as anonymous")
	}

	handler := api.NewAPIHandler(services, limiter, tokens, api.Options{
		ChatTimeout:       cfg.ChatTimeout,
		EvaluationTimeout: cfg.EvaluationTimeout,
		CronSecret:        cfg.CronSecret,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var sched *schedule.Scheduler
	if cfg.WeeklySchedule != "" {
		sched, err = schedule.New(cfg.WeeklySchedule, func(ctx context.Context, now time.Time) error {
			_, err := insights.RunWeekly(ctx, now)
			return err
		}, weeklyJobTimeout, logger.Named("schedule"))
		if err != nil {
			a.close(context.Background())
			return err
		}
		sched.Start()
		logger.Info("weekly analysis scheduled", zap.String("expr", cfg.WeeklySchedule), zap.Time("next", sched.Next()))
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	// In-flight evaluations may run for the full evaluation timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.EvaluationTimeout+15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Error("scheduler shutdown", zap.Error(err))
		}
	}
	a.close(shutdownCtx)
	logger.Info("server stopped")
	return nil
}
