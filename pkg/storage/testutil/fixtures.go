package testutil

import (
	"time"

	"github.com/absmach/fedround/round"
)

func TestTask(population string, jobType round.JobType) round.Task {
	return round.Task{
		ID:                        round.TaskID{PopulationName: population},
		TotalIterations:           10,
		MinAggregationSize:        2,
		MaxAggregationSize:        100,
		MaxParallel:               1,
		Status:                    round.TaskOpen,
		CorrelationID:             "corr-" + population,
		MinClientVersion:          "1.0.0",
		StartTaskNoEarlierThan:    time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
		DoNotCreateIterationAfter: time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second),
		Info:                      round.TaskInfo{JobType: jobType},
	}
}

func TestIteration(task round.TaskID, iteration int64, reportGoal int64) round.Iteration {
	return round.Iteration{
		ID: round.IterationID{
			PopulationName: task.PopulationName,
			TaskID:         task.TaskID,
			IterationID:    iteration,
		},
		ReportGoal:         reportGoal,
		Status:             round.IterationCollecting,
		BaseIterationID:    iteration - 1,
		BaseOnResultID:     iteration - 1,
		ResultID:           iteration,
		MaxAggregationSize: 100,
		Info:               round.IterationInfo{TaskInfo: round.TaskInfo{JobType: round.JobTraining}},
	}
}
