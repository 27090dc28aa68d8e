package collector

import (
	"context"
	"log/slog"

	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/round"
)

// aggregate promotes an iteration to APPLYING once the intermediate
// aggregates of enough contributions are uploaded. Only a single
// intermediate level is supported.
func (svc *service) aggregate(ctx context.Context, it round.Iteration, partition string) error {
	if it.AggregationLevel != 1 {
		svc.logger.Error("unsupported aggregation level",
			slog.String("iteration", it.ID.String()),
			slog.Int64("level", it.AggregationLevel))

		return nil
	}
	level := it.AggregationLevel - 1

	if err := svc.detectAggregates(ctx, it, level, partition); err != nil {
		return err
	}

	uploaded, err := svc.batches.SumBatchSizesOfStatus(ctx, it.ID, level, round.BatchUploadCompleted)
	if err != nil {
		return err
	}
	if uploaded < it.ReportGoal {
		return nil
	}

	ids, err := svc.batches.ListBatchIDsOfStatus(ctx, it.ID, level, round.BatchUploadCompleted, "")
	if err != nil {
		return err
	}
	if err := svc.publisher.Publish(ctx, svc.cfg.ModelUpdaterTopic, svc.modelUpdaterMessage(it, ids)); err != nil {
		return err
	}
	svc.logger.Info("model update work order sent",
		slog.String("iteration", it.ID.String()),
		slog.Int("batches", len(ids)))

	to := it
	to.Status = round.IterationApplying
	to.AggregationLevel = it.AggregationLevel + 1

	return svc.moveIteration(ctx, it, to)
}

// detectAggregates marks PUBLISH_COMPLETED batches whose aggregate has been
// uploaded as UPLOAD_COMPLETED.
func (svc *service) detectAggregates(ctx context.Context, it round.Iteration, level int64, partition string) error {
	folders, err := blob.ListFolders(ctx, svc.store,
		[]blob.Description{svc.locator.DownloadAggregatedGradient(it)}, svc.cfg.ListingPartitions)
	if err != nil {
		return err
	}
	published, err := svc.batches.ListBatchIDsOfStatus(ctx, it.ID, level, round.BatchPublishCompleted, "")
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(folders))
	for _, f := range folders {
		present[f] = struct{}{}
	}
	var done []round.BatchID
	for _, id := range published {
		if _, ok := present[id.BatchID]; ok {
			done = append(done, id)
		}
	}

	return parallel(svc, done, func(id round.BatchID) error {
		from := round.AggregationBatch{
			ID:                 id,
			AggregationLevel:   level,
			CreatedByPartition: partition,
			Status:             round.BatchPublishCompleted,
		}
		to := from
		to.Status = round.BatchUploadCompleted

		ok, err := svc.batches.UpdateBatchStatus(ctx, from, to)
		if err == nil && !ok {
			svc.logger.Warn("failed to update batch status",
				slog.String("batch", id.BatchID),
				slog.String("from", from.Status.String()),
				slog.String("to", to.Status.String()))
		}

		return err
	})
}
