package middleware

import (
	"context"

	"github.com/absmach/fedround/lifecycle"
	"go.opentelemetry.io/otel/trace"
)

var _ lifecycle.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    lifecycle.Service
}

func Tracing(tracer trace.Tracer, svc lifecycle.Service) lifecycle.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) ProcessCreatedTasks(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "process-created-tasks")
	defer span.End()

	return tm.svc.ProcessCreatedTasks(ctx)
}

func (tm *tracing) ProcessActiveTasks(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "process-active-tasks")
	defer span.End()

	return tm.svc.ProcessActiveTasks(ctx)
}

func (tm *tracing) ProcessCompletedIterations(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "process-completed-iterations")
	defer span.End()

	return tm.svc.ProcessCompletedIterations(ctx)
}
