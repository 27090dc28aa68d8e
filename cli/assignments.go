package cli

import (
	"github.com/absmach/fedround/round"
	"github.com/spf13/cobra"
)

func NewAssignmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignments [checkin|view|report]",
		Short: "Device assignments",
		Long:  `Check devices in and report their outcome.`,
	}

	checkInCmd := &cobra.Command{
		Use:   "checkin <population> [correlation_id]",
		Short: "Check in a device",
		Long:  `Assign a device to a collecting iteration of the population.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 1 || len(args) > 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			corr := ""
			if len(args) == 2 {
				corr = args[1]
			}

			c, err := psdk.CheckIn(args[0], corr)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, c)
		},
	}

	viewCmd := &cobra.Command{
		Use:   "view <population/task/iteration/attempt/session>",
		Short: "View assignment",
		Long:  `View assignment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			id, err := round.ParseAssignmentID(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			a, err := psdk.GetAssignment(id)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, a)
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report <population/task/iteration/attempt/session> <status>",
		Short: "Report assignment outcome",
		Long: `Report the device outcome of an assigned assignment.

Examples:
  fedround-cli assignments report keyboard/0/1/0/3f2a local_completed`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			id, err := round.ParseAssignmentID(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			status, err := round.ParseAssignmentStatus(args[1])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			a, err := psdk.ReportAssignment(id, status)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, a)
		},
	}

	cmd.AddCommand(checkInCmd)
	cmd.AddCommand(viewCmd)
	cmd.AddCommand(reportCmd)

	return cmd
}
