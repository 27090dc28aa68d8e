package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedround/manager"
	"github.com/absmach/fedround/round"
)

var _ manager.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    manager.Service
}

func Logging(logger *slog.Logger, svc manager.Service) manager.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) CreateTask(ctx context.Context, t round.Task) (resp round.Task, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("population", t.ID.PopulationName),
				slog.Int64("id", resp.ID.TaskID),
				slog.String("job_type", string(t.Info.JobType)),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create task failed", args...)

			return
		}
		lm.logger.Info("Create task completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateTask(ctx, t)
}

func (lm *loggingMiddleware) GetTask(ctx context.Context, id round.TaskID) (resp round.Task, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("population", id.PopulationName),
				slog.Int64("id", id.TaskID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get task failed", args...)

			return
		}
		lm.logger.Info("Get task completed successfully", args...)
	}(time.Now())

	return lm.svc.GetTask(ctx, id)
}

func (lm *loggingMiddleware) CancelTask(ctx context.Context, id round.TaskID) (resp round.Task, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("task",
				slog.String("population", id.PopulationName),
				slog.Int64("id", id.TaskID),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Cancel task failed", args...)

			return
		}
		lm.logger.Info("Cancel task completed successfully", args...)
	}(time.Now())

	return lm.svc.CancelTask(ctx, id)
}

func (lm *loggingMiddleware) CreateIteration(ctx context.Context, it round.Iteration) (resp round.Iteration, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("iteration", it.ID.String()),
			slog.Int64("report_goal", it.ReportGoal),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Create iteration failed", args...)

			return
		}
		lm.logger.Info("Create iteration completed successfully", args...)
	}(time.Now())

	return lm.svc.CreateIteration(ctx, it)
}

func (lm *loggingMiddleware) GetIteration(ctx context.Context, id round.IterationID) (resp round.Iteration, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("iteration", id.String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get iteration failed", args...)

			return
		}
		lm.logger.Info("Get iteration completed successfully", args...)
	}(time.Now())

	return lm.svc.GetIteration(ctx, id)
}

func (lm *loggingMiddleware) ListIterations(ctx context.Context, status round.IterationStatus) (resp []round.Iteration, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("status", status.String()),
			slog.Int("total", len(resp)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("List iterations failed", args...)

			return
		}
		lm.logger.Info("List iterations completed successfully", args...)
	}(time.Now())

	return lm.svc.ListIterations(ctx, status)
}

func (lm *loggingMiddleware) CheckIn(ctx context.Context, population, correlationID string) (resp manager.CheckIn, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("population", population),
			slog.String("correlation_id", correlationID),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Check in failed", args...)

			return
		}
		args = append(args, slog.String("assignment", resp.Assignment.ID.String()))
		lm.logger.Info("Check in completed successfully", args...)
	}(time.Now())

	return lm.svc.CheckIn(ctx, population, correlationID)
}

func (lm *loggingMiddleware) GetAssignment(ctx context.Context, id round.AssignmentID) (resp round.Assignment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("assignment", id.String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Get assignment failed", args...)

			return
		}
		lm.logger.Info("Get assignment completed successfully", args...)
	}(time.Now())

	return lm.svc.GetAssignment(ctx, id)
}

func (lm *loggingMiddleware) ReportAssignment(ctx context.Context, id round.AssignmentID, status round.AssignmentStatus) (resp round.Assignment, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("assignment", id.String()),
			slog.String("status", status.String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Report assignment failed", args...)

			return
		}
		lm.logger.Info("Report assignment completed successfully", args...)
	}(time.Now())

	return lm.svc.ReportAssignment(ctx, id, status)
}
