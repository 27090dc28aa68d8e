package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/fedround/collector"
	"github.com/absmach/fedround/pkg/messages"
)

var _ collector.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    collector.Service
}

func Logging(logger *slog.Logger, svc collector.Service) collector.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) ProcessCollecting(ctx context.Context) (err error) {
	defer lm.sweep("Process collecting", time.Now(), &err)

	return lm.svc.ProcessCollecting(ctx)
}

func (lm *loggingMiddleware) ProcessAggregating(ctx context.Context) (err error) {
	defer lm.sweep("Process aggregating", time.Now(), &err)

	return lm.svc.ProcessAggregating(ctx)
}

func (lm *loggingMiddleware) ProcessTimeouts(ctx context.Context) (err error) {
	defer lm.sweep("Process timeouts", time.Now(), &err)

	return lm.svc.ProcessTimeouts(ctx)
}

func (lm *loggingMiddleware) HandleAggregatorNotification(ctx context.Context, n messages.AggregatorNotification) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("notification",
				slog.String("request_id", n.RequestID),
				slog.String("status", string(n.Status)),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Handle aggregator notification failed", args...)

			return
		}
		lm.logger.Info("Handle aggregator notification completed successfully", args...)
	}(time.Now())

	return lm.svc.HandleAggregatorNotification(ctx, n)
}

// Sweeps run every second, so successful ones are logged at debug.
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
