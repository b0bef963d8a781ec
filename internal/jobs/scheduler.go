// Package jobs runs the periodic maintenance work of the API process.
package jobs

import (
	"context"
	"fmt"
	"time"

	"agora/api/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type visitDrainer interface {
	Drain(ctx context.Context) ([]store.GroupVisit, error)
	Ack(ctx context.Context, visits []store.GroupVisit) error
}

type jobStore interface {
	AddGroupVisits(ctx context.Context, visits []store.GroupVisit) error
	CloseLapsedPolls(ctx context.Context, now time.Time) (int64, error)
}

type Scheduler struct {
	cron    *cron.Cron
	visits  visitDrainer
	store   jobStore
	logger  zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewScheduler(visits visitDrainer, st jobStore, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "jobs").Logger()
	cronLog := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		visits:  visits,
		store:   st,
		logger:  logger,
		timeout: time.Minute,
		now:     time.Now,
	}
}

// cronLogger sends cron's own messages (panics, skipped runs) to zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Schedule registers the visit flush every flushEvery and the poll sweep every minute.
func (s *Scheduler) Schedule(flushEvery time.Duration) {
	if flushEvery <= 0 {
		flushEvery = 5 * time.Minute
	}
	s.cron.Schedule(cron.Every(flushEvery), s.job("flush_visits", func(ctx context.Context) error {
		_, err := s.FlushVisits(ctx)
		return err
	}))
	s.cron.Schedule(cron.Every(time.Minute), s.job("close_polls", func(ctx context.Context) error {
		_, err := s.ClosePolls(ctx)
		return err
	}))
}

func (s *Scheduler) job(name string, run func(ctx context.Context) error) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		started := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		s.logger.Debug().Str("job", name).Dur("took", time.Since(started)).Msg("job finished")
	})
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// FlushVisits moves the tracked visit counters into group_visits. Rows are only
// acknowledged after the write, so a failed flush is retried on the next run.
func (s *Scheduler) FlushVisits(ctx context.Context) (int, error) {
	visits, err := s.visits.Drain(ctx)
	if err != nil {
		return 0, fmt.Errorf("drain visits: %w", err)
	}
	if len(visits) == 0 {
		return 0, nil
	}
	if err := s.store.AddGroupVisits(ctx, visits); err != nil {
		return 0, err
	}
	if err := s.visits.Ack(ctx, visits); err != nil {
		return 0, fmt.Errorf("ack visits: %w", err)
	}
	s.logger.Info().Int("rows", len(visits)).Msg("flushed group visits")
	return len(visits), nil
}

func (s *Scheduler) ClosePolls(ctx context.Context) (int64, error) {
	closed, err := s.store.CloseLapsedPolls(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if closed > 0 {
		s.logger.Info().Int64("polls", closed).Msg("closed lapsed polls")
	}
	return closed, nil
}
