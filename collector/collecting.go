package collector

import (
	"context"
	"log/slog"

	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/round"
)

func (svc *service) collect(ctx context.Context, it round.Iteration, partition string) error {
	if err := svc.detectUploads(ctx, it, partition); err != nil {
		return err
	}

	leftovers, err := svc.batchLeftovers(ctx, it, partition)
	if err != nil {
		return err
	}

	if err := svc.sendFullBatches(ctx, it, partition); err != nil {
		return err
	}

	return svc.triggerAggregation(ctx, it, leftovers, partition)
}

// detectUploads moves LOCAL_COMPLETED assignments whose gradient folder
// exists to UPLOAD_COMPLETED, folding them into full batches where possible.
func (svc *service) detectUploads(ctx context.Context, it round.Iteration, partition string) error {
	completed, err := svc.assignments.ListAssignmentIDsOfStatus(ctx, it.ID, round.AssignmentLocalCompleted, "")
	if err != nil {
		return err
	}
	if len(completed) == 0 {
		return nil
	}

	uploaded, err := blob.ListFolders(ctx, svc.store, svc.locator.DownloadGradients(it), svc.cfg.ListingPartitions)
	if err != nil {
		return err
	}

	pending := make(map[string]struct{}, len(completed))
	for _, id := range completed {
		pending[id.SessionID] = struct{}{}
	}
	var sessions []string
	for _, s := range uploaded {
		if _, ok := pending[s]; ok {
			sessions = append(sessions, s)
		}
	}

	leftovers, err := svc.groupBatches(ctx, it, round.AssignmentIDs(it.ID, sessions), partition,
		round.AssignmentLocalCompleted, round.AssignmentUploadCompleted)
	if err != nil {
		return err
	}

	return svc.bulkUpdate(ctx, leftovers, "", round.AssignmentLocalCompleted, round.AssignmentUploadCompleted)
}

// batchLeftovers batches unbatched UPLOAD_COMPLETED assignments and returns
// the ones too few to fill a batch.
func (svc *service) batchLeftovers(ctx context.Context, it round.Iteration, partition string) ([]round.AssignmentID, error) {
	ids, err := svc.assignments.ListAssignmentIDsOfStatus(ctx, it.ID, round.AssignmentUploadCompleted, "")
	if err != nil {
		return nil, err
	}

	return svc.groupBatches(ctx, it, ids, partition, round.AssignmentUploadCompleted, round.AssignmentUploadCompleted)
}

// groupBatches creates one batch per full chunk of BatchSize ids and returns
// the trailing partial chunk.
func (svc *service) groupBatches(ctx context.Context, it round.Iteration, ids []round.AssignmentID, partition string, from, to round.AssignmentStatus) ([]round.AssignmentID, error) {
	size := int(svc.cfg.BatchSize)
	full := len(ids) / size * size

	var chunks [][]round.AssignmentID
	for start := 0; start < full; start += size {
		chunks = append(chunks, ids[start:start+size])
	}

	err := parallel(svc, chunks, func(chunk []round.AssignmentID) error {
		_, err := svc.createBatch(ctx, it, chunk, partition, from, to)

		return err
	})
	if err != nil {
		return nil, err
	}

	return ids[full:], nil
}

func (svc *service) createBatch(ctx context.Context, it round.Iteration, ids []round.AssignmentID, partition string, from, to round.AssignmentStatus) (string, error) {
	batchID := svc.newBatchID()
	ok, err := svc.assignments.CreateBatchAndUpdateAssignments(ctx, ids, it, from, to, batchID, partition)
	if err != nil {
		return "", err
	}
	if !ok {
		svc.logger.Warn("failed to create batch",
			slog.String("iteration", it.ID.String()),
			slog.Int("size", len(ids)),
			slog.String("from", from.String()))

		return "", nil
	}

	return batchID, nil
}

func (svc *service) sendFullBatches(ctx context.Context, it round.Iteration, partition string) error {
	ids, err := svc.batches.ListBatchIDsOfStatus(ctx, it.ID, it.AggregationLevel, round.BatchFull, partition)
	if err != nil {
		return err
	}

	return parallel(svc, ids, func(id round.BatchID) error {
		_, err := svc.sendBatch(ctx, it, id.BatchID, partition)

		return err
	})
}

// sendBatch publishes the aggregator work order of a FULL batch and marks it
// PUBLISH_COMPLETED.
func (svc *service) sendBatch(ctx context.Context, it round.Iteration, batchID, partition string) (bool, error) {
	members, err := svc.assignments.ListAssignmentIDsOfStatus(ctx, it.ID, round.AssignmentUploadCompleted, batchID)
	if err != nil {
		return false, err
	}

	msg := svc.aggregatorMessage(it, members, batchID)
	if err := svc.publisher.Publish(ctx, svc.cfg.AggregatorTopic, msg); err != nil {
		return false, err
	}
	svc.logger.Info("aggregation work order sent",
		slog.String("iteration", it.ID.String()),
		slog.String("batch", batchID),
		slog.Int("gradients", len(members)))

	from := round.AggregationBatch{
		ID:                 round.BatchID{Iteration: it.ID, BatchID: batchID},
		AggregationLevel:   it.AggregationLevel,
		CreatedByPartition: partition,
		Status:             round.BatchFull,
	}
	to := from
	to.Status = round.BatchPublishCompleted

	ok, err := svc.batches.UpdateBatchStatus(ctx, from, to)
	if err != nil {
		return false, err
	}
	if !ok {
		svc.logger.Warn("failed to update batch status",
			slog.String("batch", batchID),
			slog.String("from", from.Status.String()),
			slog.String("to", to.Status.String()))
	}

	return ok, nil
}

// triggerAggregation closes collection once published contributions reach
// the report goal, batching the leftovers first when they make up the
// difference.
func (svc *service) triggerAggregation(ctx context.Context, it round.Iteration, leftovers []round.AssignmentID, partition string) error {
	published, err := svc.batches.SumBatchSizesOfStatus(ctx, it.ID, it.AggregationLevel,
		round.BatchPublishCompleted, round.BatchUploadCompleted)
	if err != nil {
		return err
	}

	if len(leftovers) > 0 && published+int64(len(leftovers)) >= it.ReportGoal {
		sent, err := svc.sendFinalBatch(ctx, it, leftovers, partition)
		if err != nil {
			return err
		}
		if sent {
			published += int64(len(leftovers))
		}
	}

	if published < it.ReportGoal {
		return nil
	}

	to := it
	to.Status = round.IterationAggregating
	to.AggregationLevel = it.AggregationLevel + 1

	return svc.moveIteration(ctx, it, to)
}

func (svc *service) sendFinalBatch(ctx context.Context, it round.Iteration, leftovers []round.AssignmentID, partition string) (bool, error) {
	batchID, err := svc.createBatch(ctx, it, leftovers, partition, round.AssignmentUploadCompleted, round.AssignmentUploadCompleted)
	if err != nil || batchID == "" {
		return false, err
	}

	return svc.sendBatch(ctx, it, batchID, partition)
}

func (svc *service) moveIteration(ctx context.Context, from, to round.Iteration) error {
	ok, err := svc.iterations.UpdateIterationStatus(ctx, from, to)
	if err != nil {
		return err
	}
	if !ok {
		svc.logger.Warn("failed to update iteration status",
			slog.String("iteration", from.ID.String()),
			slog.String("from", from.Status.String()),
			slog.String("to", to.Status.String()))

		return nil
	}
	svc.logger.Info("iteration status updated",
		slog.String("iteration", from.ID.String()),
		slog.String("from", from.Status.String()),
		slog.String("to", to.Status.String()),
		slog.Int64("level", to.AggregationLevel))

	return nil
}
