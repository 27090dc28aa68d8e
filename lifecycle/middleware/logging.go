package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedround/lifecycle"
)

var _ lifecycle.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    lifecycle.Service
}

func Logging(logger *slog.Logger, svc lifecycle.Service) lifecycle.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) ProcessCreatedTasks(ctx context.Context) (err error) {
	defer lm.sweep("Process created tasks", time.Now(), &err)

	return lm.svc.ProcessCreatedTasks(ctx)
}

func (lm *loggingMiddleware) ProcessActiveTasks(ctx context.Context) (err error) {
	defer lm.sweep("Process active tasks", time.Now(), &err)

	return lm.svc.ProcessActiveTasks(ctx)
}

func (lm *loggingMiddleware) ProcessCompletedIterations(ctx context.Context) (err error) {
	defer lm.sweep("Process completed iterations", time.Now(), &err)

	return lm.svc.ProcessCompletedIterations(ctx)
}

func (lm *loggingMiddleware) sweep(name string, begin time.Time, err *error) {
	args := []any{
		slog.String("duration", time.Since(begin).String()),
	}
	if *err != nil {
		args = append(args, slog.Any("error", *err))
		lm.logger.Warn(name+" failed", args...)

		return
	}
	lm.logger.Debug(name+" completed successfully", args...)
}
