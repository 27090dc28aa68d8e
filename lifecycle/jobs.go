package lifecycle

import (
	"context"
	"errors"

	"github.com/absmach/fedround/collector"
)

// Jobs returns the lifecycle sweeps for the collector scheduler. Each sweep
// runs even when an earlier one fails.
func Jobs(cfg Config, svc Service) []collector.Job {
	return []collector.Job{
		{
			Name:     "lifecycle",
			Schedule: cfg.Schedule,
			Run: func(ctx context.Context) error {
				return errors.Join(
					svc.ProcessCreatedTasks(ctx),
					svc.ProcessActiveTasks(ctx),
					svc.ProcessCompletedIterations(ctx),
				)
			},
		},
	}
}
