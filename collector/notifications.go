package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	pkgerrors "github.com/absmach/fedround/pkg/errors"
	"github.com/absmach/fedround/pkg/lock"
	"github.com/absmach/fedround/pkg/messages"
	"github.com/absmach/fedround/round"
)

var (
	errBatchUpdate      = errors.New("failed to fail aggregation batch")
	errAssignmentUpdate = errors.New("failed to fail batch assignments")
	errIterationUpdate  = errors.New("failed to update iteration after batch failure")
)

func (svc *service) HandleAggregatorNotification(ctx context.Context, n messages.AggregatorNotification) error {
	if n.Status == messages.StatusOK {
		return nil
	}

	id, err := round.ParseRequestID(n.RequestID)
	if err != nil {
		svc.logger.Warn("dropping notification with invalid request id",
			slog.String("request_id", n.RequestID),
			slog.Any("error", err))

		return nil
	}

	batch, err := svc.batches.GetBatch(ctx, id)
	switch {
	case errors.Is(err, pkgerrors.ErrNotFound):
		svc.logger.Warn("notification for unknown batch", slog.String("batch", id.BatchID))

		return nil
	case err != nil:
		return err
	}
	if batch.Status != round.BatchPublishCompleted && batch.Status != round.BatchFailed {
		svc.logger.Warn("notification for batch in unexpected status",
			slog.String("batch", id.BatchID),
			slog.String("status", batch.Status.String()))

		return nil
	}

	if batch.Status == round.BatchPublishCompleted {
		failed := batch
		failed.Status = round.BatchFailed
		ok, err := svc.batches.UpdateBatchStatus(ctx, batch, failed)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", errBatchUpdate, id.BatchID)
		}
	}

	members, err := svc.assignments.ListAssignmentIDsOfStatus(ctx, id.Iteration, round.AssignmentUploadCompleted, id.BatchID)
	if err != nil {
		return err
	}
	if len(members) > 0 {
		moved, err := svc.assignments.BulkUpdateAssignmentStatus(ctx, members, id.BatchID,
			round.AssignmentUploadCompleted, round.AssignmentRemoteFailed)
		if err != nil {
			return err
		}
		if moved != int64(len(members)) {
			return fmt.Errorf("%w: %s: moved %d of %d", errAssignmentUpdate, id.BatchID, moved, len(members))
		}
	}

	return svc.reactToFailure(ctx, id.Iteration)
}

// reactToFailure fails the iteration once too many batches failed, or
// returns an aggregating iteration to collection when the remaining batches
// can no longer reach its report goal.
func (svc *service) reactToFailure(ctx context.Context, id round.IterationID) error {
	name := lock.CollectorName(id.String())
	l := svc.locks.Obtain(name)
	if err := lock.Acquire(ctx, l, svc.cfg.NotificationLockWait); err != nil {
		return fmt.Errorf("failed to obtain %s: %w", name, err)
	}
	defer svc.unlock(ctx, l, name)

	it, err := svc.iterations.GetIteration(ctx, id)
	if err != nil {
		return err
	}

	if threshold, ok := svc.cfg.failureThreshold(); ok {
		failed, err := svc.batches.SumBatchSizesOfStatus(ctx, id, 0, round.BatchFailed)
		if err != nil {
			return err
		}
		if failed > threshold*svc.cfg.BatchSize {
			if it.Status == round.IterationAggregatingFailed {
				return nil
			}

			to := it
			to.Status = round.IterationAggregatingFailed

			return svc.mustMoveIteration(ctx, it, to)
		}
	}

	if it.Status != round.IterationAggregating {
		return nil
	}

	remaining, err := svc.batches.SumBatchSizesOfStatus(ctx, id, it.AggregationLevel-1,
		round.BatchPublishCompleted, round.BatchUploadCompleted)
	if err != nil {
		return err
	}
	if remaining >= it.ReportGoal {
		return nil
	}

	to := it
	to.Status = round.IterationCollecting
	to.AggregationLevel = 0

	return svc.mustMoveIteration(ctx, it, to)
}

func (svc *service) mustMoveIteration(ctx context.Context, from, to round.Iteration) error {
	ok, err := svc.iterations.UpdateIterationStatus(ctx, from, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s from %s to %s", errIterationUpdate, from.ID, from.Status, to.Status)
	}
	svc.logger.Info("iteration status updated after batch failure",
		slog.String("iteration", from.ID.String()),
		slog.String("from", from.Status.String()),
		slog.String("to", to.Status.String()))

	return nil
}
