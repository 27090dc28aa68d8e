package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/pkg/cache"
	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/pkg/storage"
	"github.com/absmach/fedround/round"
	"github.com/google/uuid"
)

var (
	errNoCapacity   = errors.New("no collecting iteration with capacity")
	errNotActive    = errors.New("task is not active")
	errNotReporting = errors.New("status cannot be reported by a device")
)

type service struct {
	tasks       storage.TaskRepository
	iterations  storage.IterationRepository
	assignments storage.AssignmentRepository
	locator     *blob.Locator
	full        *cache.Negative
	logger      *slog.Logger
}

// NewService returns the manager. full remembers iterations found at
// capacity so check-ins skip them for a while.
func NewService(repos *storage.Repositories, locator *blob.Locator, full *cache.Negative, logger *slog.Logger) Service {
	return &service{
		tasks:       repos.Tasks,
		iterations:  repos.Iterations,
		assignments: repos.Assignments,
		locator:     locator,
		full:        full,
		logger:      logger,
	}
}

func (svc *service) CreateTask(ctx context.Context, t round.Task) (round.Task, error) {
	if t.Status != round.TaskCreated {
		t.Status = round.TaskOpen
	}

	return svc.tasks.CreateTask(ctx, t)
}

func (svc *service) GetTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	return svc.tasks.GetTask(ctx, id)
}

func (svc *service) CancelTask(ctx context.Context, id round.TaskID) (round.Task, error) {
	t, err := svc.tasks.GetTask(ctx, id)
	if err != nil {
		return round.Task{}, err
	}
	if !t.Status.Active() {
		return round.Task{}, fmt.Errorf("%w: %w: %s", pkgerrors.ErrConflict, errNotActive, t.Status)
	}

	ok, err := svc.tasks.UpdateTaskStatus(ctx, id, t.Status, round.TaskCanceled)
	if err != nil {
		return round.Task{}, err
	}
	if !ok {
		return round.Task{}, fmt.Errorf("%w: task %s/%d changed concurrently", pkgerrors.ErrConflict, id.PopulationName, id.TaskID)
	}

	return svc.tasks.GetTask(ctx, id)
}

func (svc *service) CreateIteration(ctx context.Context, it round.Iteration) (round.Iteration, error) {
	it.Status = round.IterationCollecting
	it.AggregationLevel = 0

	return svc.iterations.CreateIteration(ctx, it)
}

func (svc *service) GetIteration(ctx context.Context, id round.IterationID) (round.Iteration, error) {
	return svc.iterations.GetIteration(ctx, id)
}

func (svc *service) ListIterations(ctx context.Context, status round.IterationStatus) ([]round.Iteration, error) {
	return svc.iterations.ListIterationsOfStatus(ctx, status)
}

func (svc *service) CheckIn(ctx context.Context, population, correlationID string) (CheckIn, error) {
	if population == "" {
		return CheckIn{}, pkgerrors.ErrEmptyKey
	}

	tasks, err := svc.tasks.ListActiveTasks(ctx, population)
	if err != nil {
		return CheckIn{}, err
	}
	active := make(map[int64]struct{}, len(tasks))
	for _, t := range tasks {
		active[t.ID.TaskID] = struct{}{}
	}

	its, err := svc.iterations.ListIterationsOfStatus(ctx, round.IterationCollecting)
	if err != nil {
		return CheckIn{}, err
	}

	for _, it := range its {
		if it.ID.PopulationName != population {
			continue
		}
		if _, ok := active[it.ID.TaskID]; !ok {
			continue
		}

		key := it.ID.String()
		if svc.full.Has(key) {
			continue
		}

		n, err := svc.assignments.CountActiveAssignments(ctx, it.ID)
		if err != nil {
			return CheckIn{}, err
		}
		if n >= it.MaxAggregationSize {
			svc.full.Mark(key)

			continue
		}

		a, err := svc.assignments.CreateAssignment(ctx, it.ID, correlationID, uuid.NewString())
		if errors.Is(err, pkgerrors.ErrPreconditionFailed) {
			// The iteration left COLLECTING after it was listed.
			continue
		}
		if err != nil {
			return CheckIn{}, err
		}

		return CheckIn{
			Assignment:         a,
			PlanDownload:       svc.locator.DownloadClientPlan(a),
			CheckpointDownload: svc.locator.DownloadClientCheckpoint(a),
			GradientUpload:     svc.locator.UploadGradient(a),
		}, nil
	}

	return CheckIn{}, fmt.Errorf("%w: %w: %s", pkgerrors.ErrNotFound, errNoCapacity, population)
}

func (svc *service) GetAssignment(ctx context.Context, id round.AssignmentID) (round.Assignment, error) {
	return svc.assignments.GetAssignment(ctx, id)
}

func (svc *service) ReportAssignment(ctx context.Context, id round.AssignmentID, status round.AssignmentStatus) (round.Assignment, error) {
	if !status.Reportable() {
		return round.Assignment{}, fmt.Errorf("%w: %w: %s", pkgerrors.ErrInvalidData, errNotReporting, status)
	}

	ok, err := svc.assignments.UpdateAssignmentStatus(ctx, id, round.AssignmentAssigned, status)
	if err != nil {
		return round.Assignment{}, err
	}
	if !ok {
		return round.Assignment{}, fmt.Errorf("%w: assignment %s is not %s", pkgerrors.ErrConflict, id, round.AssignmentAssigned)
	}

	return svc.assignments.GetAssignment(ctx, id)
}
