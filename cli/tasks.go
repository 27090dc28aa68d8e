package cli

import (
	"github.com/absmach/fedround/pkg/sdk"
	"github.com/absmach/fedround/round"
	"github.com/spf13/cobra"
)

var (
	DefTLSVerification = false
	DefManagerURL      = "http://localhost:7070"
)

var (
	totalIterations    int64 = 1
	minAggregationSize int64 = 1
	maxAggregationSize int64 = 100
	maxParallel        int64 = 1
	correlationID      string
)

var psdk sdk.SDK

func SetSDK(s sdk.SDK) {
	psdk = s
}

func NewTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks [create|view|cancel]",
		Short: "Tasks manager",
		Long:  `Create, view and cancel tasks.`,
	}

	createCmd := &cobra.Command{
		Use:   "create <population> <training|evaluation>",
		Short: "Create task",
		Long: `Create a task for a population. The manager assigns the task id.

Examples:
  # Create a training task
  fedround-cli tasks create keyboard training --min-size 2 --max-size 500`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			t, err := psdk.CreateTask(round.Task{
				ID:                 round.TaskID{PopulationName: args[0]},
				TotalIterations:    totalIterations,
				MinAggregationSize: minAggregationSize,
				MaxAggregationSize: maxAggregationSize,
				MaxParallel:        maxParallel,
				CorrelationID:      correlationID,
				Info:               round.TaskInfo{JobType: round.JobType(args[1])},
			})
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, t)
		},
	}

	createCmd.Flags().Int64Var(&totalIterations, "iterations", totalIterations, "Total iterations")
	createCmd.Flags().Int64Var(&minAggregationSize, "min-size", minAggregationSize, "Minimum aggregation size")
	createCmd.Flags().Int64Var(&maxAggregationSize, "max-size", maxAggregationSize, "Maximum aggregation size")
	createCmd.Flags().Int64Var(&maxParallel, "max-parallel", maxParallel, "Maximum parallel iterations")
	createCmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id")

	viewCmd := &cobra.Command{
		Use:   "view <population> <task_id>",
		Short: "View task",
		Long:  `View task.`,
		Run: func(cmd *cobra.Command, args []string) {
			id, ok := taskID(cmd, args)
			if !ok {
				return
			}

			t, err := psdk.GetTask(id)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, t)
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <population> <task_id>",
		Short: "Cancel task",
		Long:  `Cancel an open or created task.`,
		Run: func(cmd *cobra.Command, args []string) {
			id, ok := taskID(cmd, args)
			if !ok {
				return
			}

			t, err := psdk.CancelTask(id)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, t)
		},
	}

	cmd.AddCommand(createCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(cancelCmd)

	return cmd
}

func taskID(cmd *cobra.Command, args []string) (round.TaskID, bool) {
	if len(args) != 2 {
		logUsageCmd(*cmd, cmd.Use)

		return round.TaskID{}, false
	}

	n, err := parseInt(args[1])
	if err != nil {
		logErrorCmd(*cmd, err)

		return round.TaskID{}, false
	}

	return round.TaskID{PopulationName: args[0], TaskID: n}, true
}
