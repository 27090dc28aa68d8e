package middleware

import (
	"context"

	"github.com/absmach/fedround/manager"
	"github.com/absmach/fedround/round"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ manager.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    manager.Service
}

func Tracing(tracer trace.Tracer, svc manager.Service) manager.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) CreateTask(ctx context.Context, t round.Task) (round.Task, error) {
	ctx, span := tm.tracer.Start(ctx, "create-task", trace.WithAttributes(
		attribute.String("population", t.ID.PopulationName),
		attribute.String("job_type", string(t.Info.JobType)),
	))
	defer span.End()

	return tm.svc.CreateTask(ctx, t)
}

func (tm *tracing) GetTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	ctx, span := tm.tracer.Start(ctx, "get-task", trace.WithAttributes(
		attribute.String("population", id.PopulationName),
		attribute.Int64("task_id", id.TaskID),
	))
	defer span.End()

	return tm.svc.GetTask(ctx, id)
}

func (tm *tracing) CancelTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	ctx, span := tm.tracer.Start(ctx, "cancel-task", trace.WithAttributes(
		attribute.String("population", id.PopulationName),
		attribute.Int64("task_id", id.TaskID),
	))
	defer span.End()

	return tm.svc.CancelTask(ctx, id)
}

func (tm *tracing) CreateIteration(ctx context.Context, it round.Iteration) (round.Iteration, error) {
	ctx, span := tm.tracer.Start(ctx, "create-iteration", trace.WithAttributes(
		attribute.String("iteration", it.ID.String()),
	))
	defer span.End()

	return tm.svc.CreateIteration(ctx, it)
}

func (tm *tracing) GetIteration(ctx context.Context, id round.IterationID) (round.Iteration, error) {
	ctx, span := tm.tracer.Start(ctx, "get-iteration", trace.WithAttributes(
		attribute.String("iteration", id.String()),
	))
	defer span.End()

	return tm.svc.GetIteration(ctx, id)
}

func (tm *tracing) ListIterations(ctx context.Context, status round.IterationStatus) ([]round.Iteration, error) {
	ctx, span := tm.tracer.Start(ctx, "list-iterations", trace.WithAttributes(
		attribute.String("status", status.String()),
	))
	defer span.End()

	return tm.svc.ListIterations(ctx, status)
}

func (tm *tracing) CheckIn(ctx context.Context, population, correlationID string) (manager.CheckIn, error) {
	ctx, span := tm.tracer.Start(ctx, "check-in", trace.WithAttributes(
		attribute.String("population", population),
		attribute.String("correlation_id", correlationID),
	))
	defer span.End()

	return tm.svc.CheckIn(ctx, population, correlationID)
}

func (tm *tracing) GetAssignment(ctx context.Context, id round.AssignmentID) (round.Assignment, error) {
	ctx, span := tm.tracer.Start(ctx, "get-assignment", trace.WithAttributes(
		attribute.String("assignment", id.String()),
	))
	defer span.End()

	return tm.svc.GetAssignment(ctx, id)
}

func (tm *tracing) ReportAssignment(ctx context.Context, id round.AssignmentID, status round.AssignmentStatus) (round.Assignment, error) {
	ctx, span := tm.tracer.Start(ctx, "report-assignment", trace.WithAttributes(
		attribute.String("assignment", id.String()),
		attribute.String("status", status.String()),
	))
	defer span.End()

	return tm.svc.ReportAssignment(ctx, id, status)
}
