package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fedround/pkg/blob"
	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/pkg/lock"
	"github.com/absmach/fedround/pkg/storage"
	"github.com/absmach/fedround/round"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var _ Service = (*service)(nil)

type service struct {
	cfg         Config
	iterations  storage.IterationRepository
	assignments storage.AssignmentRepository
	batches     storage.BatchRepository
	locks       lock.Registry
	store       blob.Store
	locator     *blob.Locator
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
	newBatchID  func() string
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(svc *service) {
		svc.now = now
	}
}

func WithBatchIDs(next func() string) Option {
	return func(svc *service) {
		svc.newBatchID = next
	}
}

func NewService(cfg Config, repos *storage.Repositories, store blob.Store, locator *blob.Locator, publisher Publisher, logger *slog.Logger, opts ...Option) Service {
	cfg.BatchSize = max(cfg.BatchSize, 1)
	if len(cfg.ListingPartitions) == 0 {
		cfg.ListingPartitions = HexPartitions
	}

	svc := &service{
		cfg:         cfg,
		iterations:  repos.Iterations,
		assignments: repos.Assignments,
		batches:     repos.Batches,
		locks:       repos.Locks,
		store:       store,
		locator:     locator,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		newBatchID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

func (svc *service) ProcessCollecting(ctx context.Context) error {
	return svc.sweep(ctx, round.IterationCollecting, svc.processIteration)
}

func (svc *service) ProcessAggregating(ctx context.Context) error {
	return svc.sweep(ctx, round.IterationAggregating, svc.processIteration)
}

func (svc *service) ProcessTimeouts(ctx context.Context) error {
	return svc.sweep(ctx, round.IterationCollecting, svc.processTimeouts)
}

// sweep applies step to every iteration in status. Failures stay with their
// iteration except invariant violations, which end the sweep.
func (svc *service) sweep(ctx context.Context, status round.IterationStatus, step func(context.Context, round.Iteration) error) error {
	its, err := svc.iterations.ListIterationsOfStatus(ctx, status)
	if err != nil {
		return err
	}

	for _, it := range its {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx, it); err != nil {
			if errors.Is(err, pkgerrors.ErrInvariantViolation) {
				return err
			}
			svc.logger.Error("failed to process iteration",
				slog.String("iteration", it.ID.String()),
				slog.String("status", status.String()),
				slog.Any("error", err))
		}
	}

	return nil
}

func (svc *service) processIteration(ctx context.Context, it round.Iteration) error {
	partition := it.ID.String()

	return svc.withLock(ctx, lock.CollectorName(partition), func() error {
		begin := svc.now()

		// The listed state may be stale by the time the lock is held.
		current, err := svc.iterations.GetIteration(ctx, it.ID)
		if err != nil {
			return err
		}
		defer func() {
			svc.logger.Debug("processed iteration",
				slog.String("iteration", partition),
				slog.String("status", current.Status.String()),
				slog.Int64("level", current.AggregationLevel),
				slog.String("duration", svc.now().Sub(begin).String()))
		}()

		switch current.Status {
		case round.IterationCollecting:
			return svc.collect(ctx, current, partition)
		case round.IterationAggregating:
			return svc.aggregate(ctx, current, partition)
		default:
			return nil
		}
	})
}

func (svc *service) processTimeouts(ctx context.Context, it round.Iteration) error {
	return svc.withLock(ctx, lock.TimeoutCollectorName(it.ID.String()), func() error {
		begin := svc.now()
		defer func() {
			svc.logger.Debug("processed timeouts",
				slog.String("iteration", it.ID.String()),
				slog.String("duration", svc.now().Sub(begin).String()))
		}()

		if err := svc.timeout(ctx, it, round.AssignmentLocalCompleted, svc.cfg.UploadTimeout, round.AssignmentUploadTimeout); err != nil {
			return err
		}

		return svc.timeout(ctx, it, round.AssignmentAssigned, svc.cfg.LocalComputeTimeout, round.AssignmentLocalTimeout)
	})
}

func (svc *service) timeout(ctx context.Context, it round.Iteration, from round.AssignmentStatus, after time.Duration, to round.AssignmentStatus) error {
	ids, err := svc.assignments.ListAssignmentIDsOfStatusBefore(ctx, it.ID, from, svc.now().Add(-after))
	if err != nil {
		return err
	}

	return svc.bulkUpdate(ctx, ids, "", from, to)
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
	defer svc.unlock(ctx, l, name)

	return fn()
}

func (svc *service) unlock(ctx context.Context, l lock.Lock, name string) {
	if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
		svc.logger.Warn("failed to release lock", slog.String("lock", name), slog.Any("error", err))
	}
}

// bulkUpdate moves ids and warns about the ones that did not move.
func (svc *service) bulkUpdate(ctx context.Context, ids []round.AssignmentID, batchID string, from, to round.AssignmentStatus) error {
	if len(ids) == 0 {
		return nil
	}

	n, err := svc.assignments.BulkUpdateAssignmentStatus(ctx, ids, batchID, from, to)
	if err != nil {
		return err
	}
	if missed := int64(len(ids)) - n; missed > 0 {
		svc.logger.Warn("failed to update assignment statuses",
			slog.Int64("missed", missed),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}

	return nil
}

// parallel runs fn for every item concurrently. Invariant violations are
// returned, other failures are logged.
func parallel[T any](svc *service, items []T, fn func(T) error) error {
	var (
		g          errgroup.Group
		mu         sync.Mutex
		violations []error
	)

	for _, item := range items {
		g.Go(func() error {
			err := fn(item)
			switch {
			case err == nil:
			case errors.Is(err, pkgerrors.ErrInvariantViolation):
				mu.Lock()
				violations = append(violations, err)
				mu.Unlock()
			default:
				svc.logger.Error("collector step failed", slog.Any("error", err))
			}

			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(violations...)
}
