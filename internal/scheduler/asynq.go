package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	taskPrefix = "notifier.sweep."
	queueName  = "notifier"
)

// TaskType is the asynq task name for a sweep kind.
func TaskType(kind string) string {
	return taskPrefix + kind
}

// AsynqRunner registers the sweeps as asynq periodic tasks. Every instance
// may run one; Unique keeps each tick to a single execution cluster-wide.
type AsynqRunner struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
	logger    *zap.Logger
}

func NewAsynqRunner(redisOpt asynq.RedisClientOpt, sweeper Sweeper, jobs []Job, loc *time.Location, logger *zap.Logger) (*AsynqRunner, error) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: loc,
		LogLevel: asynq.WarnLevel,
	})

	for _, job := range jobs {
		task := asynq.NewTask(TaskType(job.Kind), nil)
		if _, err := scheduler.Register(job.Spec, task,
			asynq.Queue(queueName),
			asynq.MaxRetry(0),
			asynq.Unique(time.Hour),
		); err != nil {
			return nil, fmt.Errorf("register %s sweep: %w", job.Kind, err)
		}
		logger.Info("sweep scheduled",
			zap.String("sweep", job.Kind),
			zap.String("spec", job.Spec),
			zap.String("timezone", loc.String()),
		)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{queueName: 1},
		LogLevel:    asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.Handle(taskPrefix, sweepHandler(sweeper, logger))

	return &AsynqRunner{scheduler: scheduler, server: server, mux: mux, logger: logger}, nil
}

// sweepHandler maps notifier.sweep.<kind> tasks onto Sweeper.Sweep.
func sweepHandler(sweeper Sweeper, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		kind := strings.TrimPrefix(t.Type(), taskPrefix)
		if err := runSweep(ctx, sweeper, kind, logger); err != nil {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return nil
	}
}

func (r *AsynqRunner) Run(ctx context.Context) error {
	if err := r.server.Start(r.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.server.Shutdown()
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	r.logger.Info("asynq scheduler started")

	<-ctx.Done()

	r.scheduler.Shutdown()
	r.server.Shutdown()
	r.logger.Info("asynq scheduler stopped")
	return nil
}
