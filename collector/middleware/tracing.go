package middleware

import (
	"context"

	"github.com/absmach/fedround/collector"
	"github.com/absmach/fedround/pkg/messages"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ collector.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    collector.Service
}

func Tracing(tracer trace.Tracer, svc collector.Service) collector.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) ProcessCollecting(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "process-collecting")
	defer span.End()

	return tm.svc.ProcessCollecting(ctx)
}

func (tm *tracing) ProcessAggregating(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "process-aggregating")
	defer span.End()

	return tm.svc.ProcessAggregating(ctx)
}

func (tm *tracing) ProcessTimeouts(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "process-timeouts")
	defer span.End()

	return tm.svc.ProcessTimeouts(ctx)
}

func (tm *tracing) HandleAggregatorNotification(ctx context.Context, n messages.AggregatorNotification) error {
	ctx, span := tm.tracer.Start(ctx, "handle-aggregator-notification", trace.WithAttributes(
		attribute.String("request_id", n.RequestID),
		attribute.String("status", string(n.Status)),
	))
	defer span.End()

	return tm.svc.HandleAggregatorNotification(ctx, n)
}
