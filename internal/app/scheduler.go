package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// jobTimeout bounds one run of a scheduled job.
const jobTimeout = 5 * time.Minute

// scheduler runs periodic ledger maintenance on cron schedules.
type scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func newScheduler(logger *slog.Logger) *scheduler {
	return &scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// add registers job under spec. An empty spec leaves the job disabled.
// Schedule examples:
//   - "@hourly"       - every hour
//   - "0 0 * * *"     - daily at midnight
//   - "@every 30m"    - every 30 minutes
func (s *scheduler) add(ctx context.Context, spec, name string, job func(ctx context.Context) error) error {
	if spec == "" {
		s.logger.InfoContext(ctx, "scheduler: job disabled", slog.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job(jobCtx); err != nil {
			s.logger.ErrorContext(ctx, "scheduler: job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		s.logger.DebugContext(ctx, "scheduler: job completed",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "scheduler: job registered",
		slog.String("job", name),
		slog.String("schedule", spec),
	)
	return nil
}

// run starts the cron loop and stops it, waiting for running jobs, once ctx
// is done.
func (s *scheduler) run(ctx context.Context) error {
	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler: started", slog.Int("jobs", len(s.cron.Entries())))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler: stopped")
	return nil
}
