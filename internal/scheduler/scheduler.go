// Package scheduler runs the daily payment sweeps, either in-process with
// robfig/cron or cluster-wide through asynq's periodic tasks.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs a sweep by kind and returns the reminders sent.
type Sweeper interface {
	Sweep(ctx context.Context, kind string) int
}

// Job binds a sweep kind to a cron spec evaluated in the shop's timezone.
type Job struct {
	Kind string
	Spec string
}

// Runner blocks until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

func runSweep(ctx context.Context, sweeper Sweeper, kind string, logger *zap.Logger) error {
	start := time.Now()
	sent := sweeper.Sweep(ctx, kind)
	if sent < 0 {
		return fmt.Errorf("unknown sweep %q", kind)
	}

	logger.Info("scheduled sweep finished",
		zap.String("sweep", kind),
		zap.Int("sent", sent),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}
