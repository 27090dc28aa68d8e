package middleware

import (
	"context"
	"time"

	"github.com/absmach/fedround/collector"
	"github.com/absmach/fedround/pkg/messages"
	"github.com/go-kit/kit/metrics"
)

var _ collector.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     collector.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc collector.Service) collector.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) ProcessCollecting(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "process-collecting").Add(1)
		mm.latency.With("method", "process-collecting").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ProcessCollecting(ctx)
}

func (mm *metricsMiddleware) ProcessAggregating(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "process-aggregating").Add(1)
		mm.latency.With("method", "process-aggregating").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ProcessAggregating(ctx)
}

func (mm *metricsMiddleware) ProcessTimeouts(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "process-timeouts").Add(1)
		mm.latency.With("method", "process-timeouts").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.ProcessTimeouts(ctx)
}

func (mm *metricsMiddleware) HandleAggregatorNotification(ctx context.Context, n messages.AggregatorNotification) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "handle-aggregator-notification").Add(1)
		mm.latency.With("method", "handle-aggregator-notification").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.HandleAggregatorNotification(ctx, n)
}
