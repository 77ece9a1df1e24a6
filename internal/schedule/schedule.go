// Package schedule triggers the weekly analysis from inside the process.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// parser accepts standard 5-field cron expressions (minute, hour, dom, month, dow).
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Job is run on every tick with the tick time.
type Job func(ctx context.Context, now time.Time) error

// Scheduler runs one job on a cron schedule, evaluated in UTC. A tick that
// arrives while the previous run is still going is skipped.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	job     Job
	timeout time.Duration
	logger  *zap.Logger
}

func New(expr string, job Job, timeout time.Duration, logger *zap.Logger) (*Scheduler, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	s := &Scheduler{job: job, timeout: timeout, logger: logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	s.entry = s.cron.Schedule(sched, cron.FuncJob(s.tick))
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("weekly analysis scheduled", zap.Time("next_run", s.Next()))
}

// Next is the next planned run. It is zero until Start has been called.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop prevents further ticks and waits for a running job, up to ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduled job still running: %w", ctx.Err())
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	now := time.Now().UTC()
	s.logger.Info("scheduled weekly analysis starting")
	if err := s.job(ctx, now); err != nil {
		s.logger.Error("scheduled weekly analysis failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled weekly analysis finished", zap.Duration("elapsed", time.Since(now)))
}
