package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedround/lifecycle"
	"github.com/go-kit/kit/metrics"
)

var _ lifecycle.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     lifecycle.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc lifecycle.Service) lifecycle.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) ProcessCreatedTasks(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "process-created-tasks").Add(1)
		mm.latency.With("method", "process-created-tasks").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ProcessCreatedTasks(ctx)
}

func (mm *metricsMiddleware) ProcessActiveTasks(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "process-active-tasks").Add(1)
		mm.latency.With("method", "process-active-tasks").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ProcessActiveTasks(ctx)
}

func (mm *metricsMiddleware) ProcessCompletedIterations(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "process-completed-iterations").Add(1)
		mm.latency.With("method", "process-completed-iterations").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ProcessCompletedIterations(ctx)
}
