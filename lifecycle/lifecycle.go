// Package lifecycle opens created tasks, creates the iterations of open tasks
// one after another, completes applied iterations and post-processes their
// metrics. It picks up where the collector leaves an iteration in APPLYING.
package lifecycle

import (
	"context"
	"time"
)

type Service interface {
	// ProcessCreatedTasks opens CREATED tasks whose initial checkpoint and
	// server plan are uploaded.
	ProcessCreatedTasks(ctx context.Context) error
	// ProcessActiveTasks advances the last iteration of every OPEN task:
	// it creates the first or next iteration, completes applied iterations,
	// and completes or fails the task.
	ProcessActiveTasks(ctx context.Context) error
	// ProcessCompletedIterations stores the metrics of COMPLETED iterations
	// and moves them to POST_PROCESSED.
	ProcessCompletedIterations(ctx context.Context) error
}

type Config struct {
	Schedule string `env:"SCHEDULE" envDefault:"@every 10s"`
	// ApplyingWarnAfter is how long an iteration may stay in APPLYING
	// before it is reported.
	ApplyingWarnAfter time.Duration `env:"APPLYING_WARN_AFTER" envDefault:"5m"`
}
