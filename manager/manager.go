package manager

import (
	"context"

	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/round"
)

type Service interface {
	CreateTask(ctx context.Context, t round.Task) (round.Task, error)
	GetTask(ctx context.Context, id round.TaskID) (round.Task, error)
	// CancelTask moves an active task to CANCELED.
	CancelTask(ctx context.Context, id round.TaskID) (round.Task, error)

	CreateIteration(ctx context.Context, it round.Iteration) (round.Iteration, error)
	GetIteration(ctx context.Context, id round.IterationID) (round.Iteration, error)
	ListIterations(ctx context.Context, status round.IterationStatus) ([]round.Iteration, error)

	// CheckIn assigns the device to the first collecting iteration of the
	// population with spare capacity.
	CheckIn(ctx context.Context, population, correlationID string) (CheckIn, error)
	GetAssignment(ctx context.Context, id round.AssignmentID) (round.Assignment, error)
	// ReportAssignment records the device side outcome of an ASSIGNED
	// assignment.
	ReportAssignment(ctx context.Context, id round.AssignmentID, status round.AssignmentStatus) (round.Assignment, error)
}

// CheckIn is what a device needs to take part in an iteration.
type CheckIn struct {
	Assignment         round.Assignment `json:"assignment"`
	PlanDownload       blob.Description `json:"plan_download"`
	CheckpointDownload blob.Description `json:"checkpoint_download"`
	GradientUpload     blob.Description `json:"gradient_upload"`
}
