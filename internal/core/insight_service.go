package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/monetize-consult/server/internal/grammar"
	"github.com/monetize-consult/server/internal/metrics"
	"github.com/monetize-consult/server/internal/store"
)

const (
	weeklyWindow         = 7 * 24 * time.Hour
	weeklyMessageLimit   = 500
	weeklyEvaluationCap  = 50
	weeklyAnalysisTokens = 4096
)

// ErrAnalysisRunning is returned when a weekly run is already in progress.
var ErrAnalysisRunning = errors.New("weekly analysis already running")

type InsightStore interface {
	RecentMessages(ctx context.Context, since time.Time, limit int) ([]store.ActivityMessage, error)
	RecentEvaluationScores(ctx context.Context, since time.Time, limit int) ([]grammar.Scores, error)
	SessionStats(ctx context.Context, since time.Time) (store.SessionStats, error)
	ReturningUsers(ctx context.Context, since time.Time) (int, error)
	AvgMessagesPerSession(ctx context.Context, since time.Time) (float64, error)
	CreateInsight(ctx context.Context, in *store.WeeklyInsight) error
}

type ReportNotifier interface {
	WeeklyReport(ctx context.Context, weekStart time.Time, stats store.UserStats, analysis string) error
}

// WeeklyResult summarises one run. NoData is set when the window had neither
// messages nor evaluations, in which case nothing was written.
type WeeklyResult struct {
	NoData       bool
	WeekStart    time.Time
	ChatMessages int
	Evaluations  int
	UserStats    store.UserStats
	Insight      *store.WeeklyInsight
}

type InsightService struct {
	store    InsightStore
	llm      Completer
	notifier ReportNotifier
	model    string
	logger   *zap.Logger
	running  sync.Mutex
}

func NewInsightService(st InsightStore, llm Completer, n ReportNotifier, model string, logger *zap.Logger) *InsightService {
	return &InsightService{store: st, llm: llm, notifier: n, model: model, logger: logger}
}

// RunWeekly analyses the seven days before now and stores the result as a
// new insight.
func (s *InsightService) RunWeekly(ctx context.Context, now time.Time) (*WeeklyResult, error) {
	if !s.running.TryLock() {
		return nil, ErrAnalysisRunning
	}
	defer s.running.Unlock()

	res, err := s.runWeekly(ctx, now.UTC())
	switch {
	case err != nil:
		metrics.RecordWeeklyRun("error")
	case res.NoData:
		metrics.RecordWeeklyRun("no_data")
	default:
		metrics.RecordWeeklyRun("ok")
	}
	return res, err
}

func (s *InsightService) runWeekly(ctx context.Context, now time.Time) (*WeeklyResult, error) {
	since := now.Add(-weeklyWindow)
	var (
		data      WeeklyData
		sessStats store.SessionStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data.Messages, err = s.store.RecentMessages(gctx, since, weeklyMessageLimit)
		return err
	})
	g.Go(func() (err error) {
		data.Evaluations, err = s.store.RecentEvaluationScores(gctx, since, weeklyEvaluationCap)
		return err
	})
	g.Go(func() (err error) {
		sessStats, err = s.store.SessionStats(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		data.Stats.ReturningUsers, err = s.store.ReturningUsers(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		data.Stats.AvgMessagesPerSession, err = s.store.AvgMessagesPerSession(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to gather weekly activity: %w", err)
	}
	data.Stats.TotalSessions = sessStats.TotalSessions
	data.Stats.LoggedInUsers = sessStats.LoggedInUsers
	data.Stats.UniqueIPs = sessStats.UniqueIPs
	data.Stats.ChatSessions = sessStats.ChatSessions
	data.Stats.EvalSessions = sessStats.EvalSessions

	weekStart := WeekStart(now)
	res := &WeeklyResult{
		WeekStart:    weekStart,
		ChatMessages: len(data.Messages),
		Evaluations:  len(data.Evaluations),
		UserStats:    data.Stats,
	}
	if len(data.Messages) == 0 && len(data.Evaluations) == 0 {
		s.logger.Info("no activity to analyse this week")
		res.NoData = true
		return res, nil
	}

	analysis, err := s.llm.Complete(ctx, CompletionRequest{
		Model:     s.model,
		Turns:     []Turn{{Role: store.RoleUser, Content: BuildWeeklyAnalysisPrompt(data)}},
		MaxTokens: weeklyAnalysisTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("weekly analysis request failed: %w", err)
	}

	sections := grammar.ExtractSections(analysis)
	insight := &store.WeeklyInsight{
		WeekStart:         weekStart,
		Analysis:          analysis,
		FAQAdditions:      sections.FAQAdditions,
		PromptSuggestions: sections.PromptSuggestions,
		KnowledgeGaps:     sections.KnowledgeGaps,
		AutoApplied:       true,
		UserStats:         data.Stats,
	}
	if err := s.store.CreateInsight(ctx, insight); err != nil {
		return nil, fmt.Errorf("failed to save weekly insight: %w", err)
	}
	res.Insight = insight

	if err := s.notifier.WeeklyReport(ctx, weekStart, data.Stats, analysis); err != nil {
		s.logger.Error("weekly report email failed", zap.Error(err))
	}
	s.logger.Info("weekly analysis complete",
		zap.String("week_start", weekStart.Format(time.DateOnly)),
		zap.Int("chat_messages", res.ChatMessages),
		zap.Int("evaluations", res.Evaluations))
	return res, nil
}

// WeekStart is midnight UTC of the Monday on or before t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
