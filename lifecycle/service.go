package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/absmach/fedround/pkg/blob"
	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/pkg/lock"
	"github.com/absmach/fedround/pkg/storage"
	"github.com/absmach/fedround/round"
)

var (
	errUnexpectedStatus = errors.New("unexpected iteration status")
	errInvalidMetrics   = errors.New("invalid metrics")
)

var _ Service = (*service)(nil)

type service struct {
	cfg        Config
	tasks      storage.TaskRepository
	iterations storage.IterationRepository
	metrics    storage.MetricsRepository
	locks      lock.Registry
	store      blob.Store
	locator    *blob.Locator
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(svc *service) {
		svc.now = now
	}
}

func NewService(cfg Config, repos *storage.Repositories, store blob.Store, locator *blob.Locator, logger *slog.Logger, opts ...Option) Service {
	svc := &service{
		cfg:        cfg,
		tasks:      repos.Tasks,
		iterations: repos.Iterations,
		metrics:    repos.Metrics,
		locks:      repos.Locks,
		store:      store,
		locator:    locator,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (svc *service) ProcessCreatedTasks(ctx context.Context) error {
	tasks, err := svc.tasks.ListTasksOfStatus(ctx, round.TaskCreated)
	if err != nil {
		return err
	}

	return forEach(ctx, svc, tasks, func(t round.Task) string { return t.ID.String() }, svc.processCreatedTask)
}

func (svc *service) ProcessActiveTasks(ctx context.Context) error {
	tasks, err := svc.tasks.ListTasksOfStatus(ctx, round.TaskOpen)
	if err != nil {
		return err
	}

	return forEach(ctx, svc, tasks, func(t round.Task) string { return t.ID.String() }, svc.processActiveTask)
}

func (svc *service) ProcessCompletedIterations(ctx context.Context) error {
	its, err := svc.iterations.ListIterationsOfStatus(ctx, round.IterationCompleted)
	if err != nil {
		return err
	}

	return forEach(ctx, svc, its, func(it round.Iteration) string { return it.ID.String() }, svc.processCompletedIteration)
}

// processCreatedTask opens a task once the server side of its iteration 0
// is in place. Evaluation tasks evaluate checkpoints of other results and
// open right away.
func (svc *service) processCreatedTask(ctx context.Context, t round.Task) error {
	return svc.withLock(ctx, lock.TaskSchedulerName(t.ID.String()), func() error {
		if t.Info.JobType == round.JobTraining {
			base := round.BaseIteration(t)
			ok, err := svc.store.Exists(ctx, svc.locator.DownloadCheckpoint(base), svc.locator.DownloadServerPlan(base))
			if err != nil {
				return err
			}
			if !ok {
				svc.logger.Warn("initial checkpoint or server plan missing", slog.String("task", t.ID.String()))

				return nil
			}
		}

		ok, err := svc.tasks.UpdateTaskStatus(ctx, t.ID, round.TaskCreated, round.TaskOpen)
		if err != nil {
			return err
		}
		if ok {
			svc.logger.Info("task opened", slog.String("task", t.ID.String()))
		}

		return nil
	})
}

func (svc *service) processActiveTask(ctx context.Context, t round.Task) error {
	return svc.withLock(ctx, lock.TaskSchedulerName(t.ID.String()), func() error {
		last, err := svc.iterations.GetLastIterationOfTask(ctx, t.ID)
		switch {
		case errors.Is(err, pkgerrors.ErrNotFound):
			return svc.startTask(ctx, t)
		case err != nil:
			return err
		}

		return svc.processLastIteration(ctx, t, last)
	})
}

func (svc *service) processLastIteration(ctx context.Context, t round.Task, last round.Iteration) error {
	switch last.Status {
	case round.IterationCollecting, round.IterationAggregating, round.IterationCanceled:
		return nil
	case round.IterationApplying:
		done, err := svc.applied(ctx, last)
		if err != nil {
			return err
		}
		if !done {
			if last.CreatedTime.Before(svc.now().Add(-svc.cfg.ApplyingWarnAfter)) {
				svc.logger.Warn("iteration applying for too long",
					slog.String("iteration", last.ID.String()),
					slog.String("since", last.CreatedTime.String()))
			}

			return nil
		}

		completed := last
		completed.Status = round.IterationCompleted
		ok, err := svc.iterations.UpdateIterationStatus(ctx, last, completed)
		if err != nil {
			return err
		}
		if !ok {
			svc.logger.Warn("failed to complete iteration", slog.String("iteration", last.ID.String()))

			return nil
		}
		svc.logger.Info("iteration completed", slog.String("iteration", last.ID.String()))

		return svc.handleCompletedIteration(ctx, t, last)
	case round.IterationCompleted, round.IterationPostProcessed:
		return svc.handleCompletedIteration(ctx, t, last)
	case round.IterationAggregatingFailed, round.IterationApplyingFailed:
		svc.logger.Warn("iteration failed",
			slog.String("iteration", last.ID.String()),
			slog.String("status", last.Status.String()))

		return svc.moveTask(ctx, t, round.TaskFailed)
	default:
		return fmt.Errorf("%w: %s", errUnexpectedStatus, last.Status)
	}
}

func (svc *service) handleCompletedIteration(ctx context.Context, t round.Task, last round.Iteration) error {
	if last.ID.IterationID >= t.TotalIterations {
		return svc.moveTask(ctx, t, round.TaskCompleted)
	}

	return svc.createIteration(ctx, t, last.ID.IterationID)
}

func (svc *service) startTask(ctx context.Context, t round.Task) error {
	ready, err := svc.readyToStart(ctx, t)
	if err != nil || !ready {
		return err
	}

	return svc.createIteration(ctx, t, 0)
}

// readyToStart reports whether a task without iterations has its plans and,
// for training, its initial checkpoint uploaded.
func (svc *service) readyToStart(ctx context.Context, t round.Task) (bool, error) {
	if t.TotalIterations == 0 {
		return false, nil
	}
	if !t.StartTaskNoEarlierThan.IsZero() && svc.now().Before(t.StartTaskNoEarlierThan) {
		return false, nil
	}

	required := append(svc.locator.UploadClientPlans(t.ID), svc.locator.UploadServerPlans(t.ID)...)
	if t.Info.JobType == round.JobTraining {
		required = append(required, svc.locator.UploadCheckpoints(round.BaseIteration(t))...)
	}

	return svc.store.Exists(ctx, required...)
}

func (svc *service) createIteration(ctx context.Context, t round.Task, base int64) error {
	if !t.DoNotCreateIterationAfter.IsZero() && svc.now().After(t.DoNotCreateIterationAfter) {
		svc.logger.Warn("iteration creation window closed", slog.String("task", t.ID.String()))

		return nil
	}

	it, err := svc.iterations.CreateIteration(ctx, round.NextIteration(t, base))
	switch {
	case errors.Is(err, pkgerrors.ErrEntityExists):
		svc.logger.Warn("iteration already exists", slog.String("task", t.ID.String()), slog.Int64("base", base))

		return nil
	case err != nil:
		return err
	}
	svc.logger.Info("iteration created", slog.String("iteration", it.ID.String()))

	return nil
}

// applied reports whether the model updater has written every output of the
// iteration's work order.
func (svc *service) applied(ctx context.Context, it round.Iteration) (bool, error) {
	outputs := []blob.Description{svc.locator.UploadMetrics(it)[0]}
	if !it.Evaluation() {
		outputs = append(outputs, svc.locator.UploadCheckpoints(it)[0], svc.locator.UploadClientCheckpoints(it)[0])
	}

	return svc.store.Exists(ctx, outputs...)
}

func (svc *service) moveTask(ctx context.Context, t round.Task, to round.TaskStatus) error {
	ok, err := svc.tasks.UpdateTaskStatus(ctx, t.ID, t.Status, to)
	if err != nil {
		return err
	}
	if !ok {
		svc.logger.Warn("failed to update task status",
			slog.String("task", t.ID.String()),
			slog.String("from", t.Status.String()),
			slog.String("to", to.String()))

		return nil
	}
	svc.logger.Info("task status updated", slog.String("task", t.ID.String()), slog.String("status", to.String()))

	return nil
}

func (svc *service) processCompletedIteration(ctx context.Context, it round.Iteration) error {
	return svc.withLock(ctx, lock.CompletedIterationName(it.ID.String()), func() error {
		file := svc.locator.UploadMetrics(it)[0]
		ok, err := svc.store.Exists(ctx, file)
		if err != nil {
			return err
		}
		if !ok {
			svc.logger.Info("metrics missing", slog.String("iteration", it.ID.String()))

			return nil
		}

		data, err := svc.store.Download(ctx, file)
		if err != nil {
			return err
		}
		values := map[string]float64{}
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("%w: %s: %w", errInvalidMetrics, it.ID, err)
		}

		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		metrics := make([]round.ModelMetric, len(names))
		for i, name := range names {
			metrics[i] = round.ModelMetric{Iteration: it.ID, Name: name, Value: values[name]}
		}
		if err := svc.metrics.UpsertModelMetrics(ctx, metrics); err != nil {
			return err
		}

		processed := it
		processed.Status = round.IterationPostProcessed
		if _, err := svc.iterations.UpdateIterationStatus(ctx, it, processed); err != nil {
			return err
		}

		return nil
	})
}

// withLock runs fn when the named lock is free and skips it otherwise.
func (svc *service) withLock(ctx context.Context, name string, fn func() error) error {
	l := svc.locks.Obtain(name)
	ok, err := l.TryLock(ctx)
	if err != nil {
		return err
	}
	if !ok {
		svc.logger.Debug("lock held elsewhere", slog.String("lock", name))

		return nil
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			svc.logger.Warn("failed to release lock", slog.String("lock", name), slog.Any("error", err))
		}
	}()

	return fn()
}

// forEach runs step for every item. A failing item is logged and does not
// stop the others; invariant violations end the sweep.
func forEach[T any](ctx context.Context, svc *service, items []T, name func(T) string, step func(context.Context, T) error) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx, item); err != nil {
			if errors.Is(err, pkgerrors.ErrInvariantViolation) {
				return err
			}
			svc.logger.Error("failed to process", slog.String("id", name(item)), slog.Any("error", err))
		}
	}

	return nil
}
