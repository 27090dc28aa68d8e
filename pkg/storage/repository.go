package storage

import (
	"context"
	"time"

	"github.com/absmach/fedround/round"
)

// Transition methods report (false, nil) when the entity is not in the
// expected state, which includes losing a race to another writer.

type TaskRepository interface {
	CreateTask(ctx context.Context, t round.Task) (round.Task, error)
	GetTask(ctx context.Context, id round.TaskID) (round.Task, error)
	ListTasksOfStatus(ctx context.Context, status round.TaskStatus) ([]round.Task, error)
	ListActiveTasks(ctx context.Context, population string) ([]round.Task, error)
	UpdateTaskStatus(ctx context.Context, id round.TaskID, from, to round.TaskStatus) (bool, error)
}

type IterationRepository interface {
	CreateIteration(ctx context.Context, it round.Iteration) (round.Iteration, error)
	GetIteration(ctx context.Context, id round.IterationID) (round.Iteration, error)
	ListIterationsOfStatus(ctx context.Context, status round.IterationStatus) ([]round.Iteration, error)
	GetLastIterationOfTask(ctx context.Context, id round.TaskID) (round.Iteration, error)
	UpdateIterationStatus(ctx context.Context, from, to round.Iteration) (bool, error)
}

type AssignmentRepository interface {
	CreateAssignment(ctx context.Context, id round.IterationID, correlationID, sessionID string) (round.Assignment, error)
	GetAssignment(ctx context.Context, id round.AssignmentID) (round.Assignment, error)
	UpdateAssignmentStatus(ctx context.Context, id round.AssignmentID, from, to round.AssignmentStatus) (bool, error)
	ListAssignmentIDsOfStatus(ctx context.Context, id round.IterationID, status round.AssignmentStatus, batchID string) ([]round.AssignmentID, error)
	ListAssignmentIDsOfStatusBefore(ctx context.Context, id round.IterationID, status round.AssignmentStatus, before time.Time) ([]round.AssignmentID, error)
	CountActiveAssignments(ctx context.Context, id round.IterationID) (int64, error)
	// BulkUpdateAssignmentStatus returns the number of assignments moved.
	BulkUpdateAssignmentStatus(ctx context.Context, ids []round.AssignmentID, batchID string, from, to round.AssignmentStatus) (int64, error)
	CreateBatchAndUpdateAssignments(ctx context.Context, ids []round.AssignmentID, it round.Iteration, from, to round.AssignmentStatus, batchID, partition string) (bool, error)
}

type BatchRepository interface {
	GetBatch(ctx context.Context, id round.BatchID) (round.AggregationBatch, error)
	UpdateBatchStatus(ctx context.Context, from, to round.AggregationBatch) (bool, error)
	ListBatchIDsOfStatus(ctx context.Context, id round.IterationID, level int64, status round.BatchStatus, partition string) ([]round.BatchID, error)
	SumBatchSizesOfStatus(ctx context.Context, id round.IterationID, level int64, statuses ...round.BatchStatus) (int64, error)
}

type MetricsRepository interface {
	// UpsertModelMetrics stores metrics, replacing values already reported
	// for the same iteration and name.
	UpsertModelMetrics(ctx context.Context, metrics []round.ModelMetric) error
	ListModelMetrics(ctx context.Context, id round.TaskID) ([]round.ModelMetric, error)
}
