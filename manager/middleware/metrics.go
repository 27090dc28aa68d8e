package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedround/manager"
	"github.com/absmach/fedround/round"
	"github.com/go-kit/kit/metrics"
)

var _ manager.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     manager.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc manager.Service) manager.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) CreateTask(ctx context.Context, t round.Task) (round.Task, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-task").Add(1)
		mm.latency.With("method", "create-task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateTask(ctx, t)
}

func (mm *metricsMiddleware) GetTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-task").Add(1)
		mm.latency.With("method", "get-task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetTask(ctx, id)
}

func (mm *metricsMiddleware) CancelTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "cancel-task").Add(1)
		mm.latency.With("method", "cancel-task").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CancelTask(ctx, id)
}

func (mm *metricsMiddleware) CreateIteration(ctx context.Context, it round.Iteration) (round.Iteration, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "create-iteration").Add(1)
		mm.latency.With("method", "create-iteration").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CreateIteration(ctx, it)
}

func (mm *metricsMiddleware) GetIteration(ctx context.Context, id round.IterationID) (round.Iteration, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-iteration").Add(1)
		mm.latency.With("method", "get-iteration").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetIteration(ctx, id)
}

func (mm *metricsMiddleware) ListIterations(ctx context.Context, status round.IterationStatus) ([]round.Iteration, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "list-iterations").Add(1)
		mm.latency.With("method", "list-iterations").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ListIterations(ctx, status)
}

func (mm *metricsMiddleware) CheckIn(ctx context.Context, population, correlationID string) (manager.CheckIn, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "check-in").Add(1)
		mm.latency.With("method", "check-in").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.CheckIn(ctx, population, correlationID)
}

func (mm *metricsMiddleware) GetAssignment(ctx context.Context, id round.AssignmentID) (round.Assignment, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "get-assignment").Add(1)
		mm.latency.With("method", "get-assignment").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.GetAssignment(ctx, id)
}

func (mm *metricsMiddleware) ReportAssignment(ctx context.Context, id round.AssignmentID, status round.AssignmentStatus) (round.Assignment, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "report-assignment").Add(1)
		mm.latency.With("method", "report-assignment").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ReportAssignment(ctx, id, status)
}
