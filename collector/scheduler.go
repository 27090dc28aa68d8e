package collector

import (
	"context"
	"fmt"
	"log/slog"

	fedcron "github.com/absmach/fedround/pkg/cron"
	"github.com/robfig/cron/v3"
)

// Scheduler runs the sweeps on their schedules. A sweep that is still
// running when its next activation comes is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// Job is a sweep run on its own schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// NewScheduler schedules the collector sweeps and any extra jobs.
func NewScheduler(cfg Config, svc Service, logger *slog.Logger, extra ...Job) (*Scheduler, error) {
	c := cron.New(
		cron.WithParser(fedcron.Parser),
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	s := &Scheduler{cron: c, logger: logger}

	jobs := []Job{
		{
			Name:     "collect",
			Schedule: cfg.CollectSchedule,
			Run: func(ctx context.Context) error {
				if err := svc.ProcessCollecting(ctx); err != nil {
					return err
				}

				return svc.ProcessAggregating(ctx)
			},
		},
		{
			Name:     "timeouts",
			Schedule: cfg.TimeoutSchedule,
			Run:      svc.ProcessTimeouts,
		},
	}
	jobs = append(jobs, extra...)

	for _, job := range jobs {
		schedule, err := fedcron.ParseSchedule(job.Schedule)
		if err != nil {
			return nil, fmt.Errorf("%s schedule: %w", job.Name, err)
		}
		c.Schedule(schedule, cron.FuncJob(func() {
			if err := job.Run(context.Background()); err != nil {
				logger.Error("sweep failed", slog.String("sweep", job.Name), slog.Any("error", err))
			}
		}))
	}

	return s, nil
}

// Start runs the sweeps until ctx is done, then waits for running sweeps.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("collector scheduler started", slog.Int("jobs", len(s.cron.Entries())))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("collector scheduler stopped")

	return nil
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, slog.Any("error", err))...)
}
