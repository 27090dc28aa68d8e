package round

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidIterationID = errors.New("invalid iteration id")

type IterationID struct {
	PopulationName string `json:"population_name"`
	TaskID         int64  `json:"task_id"`
	IterationID    int64  `json:"iteration_id"`
	AttemptID      int64  `json:"attempt_id"`
}

// String renders the id as population/task/iteration/attempt. It is the
// scope of the per-iteration locks and of aggregation request ids.
func (id IterationID) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", id.PopulationName, id.TaskID, id.IterationID, id.AttemptID)
}

func (id IterationID) Task() TaskID {
	return TaskID{PopulationName: id.PopulationName, TaskID: id.TaskID}
}

func ParseIterationID(s string) (IterationID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 4 || parts[0] == "" {
		return IterationID{}, fmt.Errorf("%w: %q", ErrInvalidIterationID, s)
	}

	nums := make([]int64, 3)
	for i, p := range parts[1:] {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return IterationID{}, fmt.Errorf("%w: %q: %w", ErrInvalidIterationID, s, err)
		}
		nums[i] = n
	}

	return IterationID{
		PopulationName: parts[0],
		TaskID:         nums[0],
		IterationID:    nums[1],
		AttemptID:      nums[2],
	}, nil
}

type IterationInfo struct {
	TaskInfo TaskInfo `json:"task_info"`
}

type Iteration struct {
	ID                 IterationID     `json:"id"`
	ReportGoal         int64           `json:"report_goal"`
	Status             IterationStatus `json:"status"`
	BaseIterationID    int64           `json:"base_iteration_id"`
	BaseOnResultID     int64           `json:"base_on_result_id"`
	ResultID           int64           `json:"result_id"`
	AggregationLevel   int64           `json:"aggregation_level"`
	MaxAggregationSize int64           `json:"max_aggregation_size"`
	MinClientVersion   string          `json:"min_client_version,omitempty"`
	MaxClientVersion   string          `json:"max_client_version,omitempty"`
	Info               IterationInfo   `json:"info"`
	CreatedTime        time.Time       `json:"created_time"`
}

func (it Iteration) Evaluation() bool {
	return it.Info.TaskInfo.JobType == JobEvaluation
}

// CheckpointResultID is the result whose checkpoint this iteration trains
// from, or evaluates.
func (it Iteration) CheckpointResultID() int64 {
	if it.Evaluation() && it.Info.TaskInfo.EvaluationCheckpoint != 0 {
		return it.Info.TaskInfo.EvaluationCheckpoint
	}

	return it.BaseOnResultID
}
