package round

import (
	"fmt"
	"time"
)

type JobType string

const (
	JobTraining   JobType = "training"
	JobEvaluation JobType = "evaluation"
)

func (j JobType) Valid() bool {
	return j == JobTraining || j == JobEvaluation
}

type TaskInfo struct {
	JobType JobType `json:"job_type"`
	// EvaluationCheckpoint names the result id evaluated by an evaluation
	// task. Zero for training tasks.
	EvaluationCheckpoint int64 `json:"evaluation_checkpoint,omitempty"`
}

type TaskID struct {
	PopulationName string `json:"population_name"`
	TaskID         int64  `json:"task_id"`
}

type Task struct {
	ID                        TaskID     `json:"id"`
	TotalIterations           int64      `json:"total_iterations"`
	MinAggregationSize        int64      `json:"min_aggregation_size"`
	MaxAggregationSize        int64      `json:"max_aggregation_size"`
	MaxParallel               int64      `json:"max_parallel"`
	Status                    TaskStatus `json:"status"`
	CorrelationID             string     `json:"correlation_id,omitempty"`
	MinClientVersion          string     `json:"min_client_version,omitempty"`
	MaxClientVersion          string     `json:"max_client_version,omitempty"`
	StartTaskNoEarlierThan    time.Time  `json:"start_task_no_earlier_than"`
	DoNotCreateIterationAfter time.Time  `json:"do_not_create_iteration_after"`
	CreatedTime               time.Time  `json:"created_time"`
	Info                      TaskInfo   `json:"info"`
}

func (id TaskID) String() string {
	return fmt.Sprintf("%s/%d", id.PopulationName, id.TaskID)
}

// BaseIteration is the unstored iteration 0 of a task. Its result holds the
// initial checkpoint and plans the first iteration trains from.
func BaseIteration(t Task) Iteration {
	return Iteration{
		ID: IterationID{
			PopulationName: t.ID.PopulationName,
			TaskID:         t.ID.TaskID,
		},
		ReportGoal:         t.MinAggregationSize,
		Status:             IterationCollecting,
		MaxAggregationSize: t.MaxAggregationSize,
		MinClientVersion:   t.MinClientVersion,
		MaxClientVersion:   t.MaxClientVersion,
		Info:               IterationInfo{TaskInfo: t.Info},
	}
}

// NextIteration follows the iteration base of t. Training iterations start
// from the result of base; evaluation iterations produce and consume their
// own result.
func NextIteration(t Task, base int64) Iteration {
	it := BaseIteration(t)
	it.ID.IterationID = base + 1
	it.ResultID = base + 1
	if t.Info.JobType == JobEvaluation {
		it.BaseIterationID = base + 1
		it.BaseOnResultID = base + 1

		return it
	}
	it.BaseIterationID = base
	it.BaseOnResultID = base

	return it
}
