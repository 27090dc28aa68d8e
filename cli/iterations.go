package cli

import (
	"github.com/absmach/fedround/round"
	"github.com/spf13/cobra"
)

var (
	reportGoal int64 = 1
	attemptID  int64
)

func NewIterationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "iterations [create|view|list]",
		Short: "Iterations manager",
		Long:  `Create, view and list iterations.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <population> <task_id> <iteration_id> <training|evaluation>",
		Short: "Create iteration",
		Long:  `Create a collecting iteration of a task.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 4 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			var nums [2]int64
			for i, a := range args[1:3] {
				n, err := parseInt(a)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				nums[i] = n
			}

			it, err := psdk.CreateIteration(round.Iteration{
				ID: round.IterationID{
					PopulationName: args[0],
					TaskID:         nums[0],
					IterationID:    nums[1],
					AttemptID:      attemptID,
				},
				ReportGoal:         reportGoal,
				BaseIterationID:    nums[1] - 1,
				BaseOnResultID:     nums[1] - 1,
				ResultID:           nums[1],
				MaxAggregationSize: maxAggregationSize,
				Info:               round.IterationInfo{TaskInfo: round.TaskInfo{JobType: round.JobType(args[3])}},
			})
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, it)
		},
	}

	createCmd.Flags().Int64Var(&reportGoal, "report-goal", reportGoal, "Reports needed to aggregate")
	createCmd.Flags().Int64Var(&maxAggregationSize, "max-size", maxAggregationSize, "Maximum active assignments")
	createCmd.Flags().Int64Var(&attemptID, "attempt", attemptID, "Attempt id")

	viewCmd := &cobra.Command{
		Use:   "view <population/task/iteration/attempt>",
		Short: "View iteration",
		Long:  `View iteration.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			id, err := round.ParseIterationID(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			it, err := psdk.GetIteration(id)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, it)
		},
	}

	listCmd := &cobra.Command{
		Use:   "list [status]",
		Short: "List iterations",
		Long:  `List iterations in a status, COLLECTING by default.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) > 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			status := round.IterationCollecting
			if len(args) == 1 {
				s, err := round.ParseIterationStatus(args[0])
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				status = s
			}

			page, err := psdk.ListIterations(status)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, page)
		},
	}

	cmd.AddCommand(createCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(listCmd)

	return cmd
}
