package collector

import (
	"github.com/absmach/fedround/pkg/blob"
	"github.com/absmach/fedround/pkg/messages"
	"github.com/absmach/fedround/round"
)

func (svc *service) aggregatorMessage(it round.Iteration, members []round.AssignmentID, batchID string) messages.AggregatorMessage {
	plan := svc.locator.DownloadServerPlan(it)
	source := svc.locator.DownloadGradients(it)[0]
	output := svc.locator.UploadAggregatedGradient(it)

	gradients := make([]string, len(members))
	for i, m := range members {
		gradients[i] = m.SessionID + "/" + blob.GradientFile
	}

	return messages.AggregatorMessage{
		ServerPlanBucket:               plan.Host,
		ServerPlanObject:               plan.Object,
		GradientBucket:                 source.Host,
		GradientPrefix:                 source.Object,
		Gradients:                      gradients,
		AggregatedGradientOutputBucket: output.Host,
		AggregatedGradientOutputObject: output.Object + batchID + "/" + blob.GradientFile,
		RequestID:                      round.BatchID{Iteration: it.ID, BatchID: batchID}.RequestID(),
		NotificationTopic:              svc.cfg.NotificationTopic,
	}
}

func (svc *service) modelUpdaterMessage(it round.Iteration, batches []round.BatchID) messages.ModelUpdaterMessage {
	plan := svc.locator.DownloadServerPlan(it)
	checkpoint := svc.locator.DownloadCheckpoint(it)
	metrics := svc.locator.UploadMetrics(it)[0]
	intermediates := svc.locator.DownloadAggregatedGradient(it)

	gradients := make([]string, len(batches))
	for i, b := range batches {
		gradients[i] = b.BatchID + "/" + blob.GradientFile
	}

	msg := messages.ModelUpdaterMessage{
		ServerPlanBucket:           plan.Host,
		ServerPlanObject:           plan.Object,
		IntermediateGradientBucket: intermediates.Host,
		IntermediateGradientPrefix: intermediates.Object,
		IntermediateGradients:      gradients,
		CheckpointBucket:           checkpoint.Host,
		CheckpointObject:           checkpoint.Object,
		MetricsOutputBucket:        metrics.Host,
		MetricsOutputObject:        metrics.Object,
		RequestID:                  it.ID.String(),
	}
	if it.Evaluation() {
		return msg
	}

	next := svc.locator.UploadCheckpoints(it)[0]
	nextClient := svc.locator.UploadClientCheckpoints(it)[0]
	msg.NewCheckpointOutputBucket = next.Host
	msg.NewCheckpointOutputObject = next.Object
	msg.NewClientCheckpointOutputBucket = nextClient.Host
	msg.NewClientCheckpointOutputObject = nextClient.Object

	return msg
}
