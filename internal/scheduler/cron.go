package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronRunner fires the sweeps from this process. Running several instances
// relies on the sweep lock to keep reminders single.
type CronRunner struct {
	cron    *cron.Cron
	sweeper Sweeper
	logger  *zap.Logger
	ctx     context.Context
}

func NewCronRunner(sweeper Sweeper, jobs []Job, loc *time.Location, logger *zap.Logger) (*CronRunner, error) {
	cl := cronLogger{logger.Sugar()}
	r := &CronRunner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sweeper: sweeper,
		logger:  logger,
		ctx:     context.Background(),
	}

	for _, job := range jobs {
		kind := job.Kind
		if _, err := r.cron.AddFunc(job.Spec, func() { r.fire(kind) }); err != nil {
			return nil, fmt.Errorf("invalid cron spec %q for %s sweep: %w", job.Spec, kind, err)
		}
		logger.Info("sweep scheduled",
			zap.String("sweep", kind),
			zap.String("spec", job.Spec),
			zap.String("timezone", loc.String()),
		)
	}
	return r, nil
}

func (r *CronRunner) fire(kind string) {
	if err := runSweep(r.ctx, r.sweeper, kind, r.logger); err != nil {
		r.logger.Error("scheduled sweep failed", zap.Error(err))
	}
}

func (r *CronRunner) Run(ctx context.Context) error {
	r.ctx = ctx
	r.cron.Start()
	r.logger.Info("cron scheduler started")

	<-ctx.Done()

	// Stop waits for a sweep already in progress.
	<-r.cron.Stop().Done()
	r.logger.Info("cron scheduler stopped")
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
