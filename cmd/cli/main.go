package main

import (
	"log"

	"github.com/absmach/fedround/cli"
	"github.com/absmach/fedround/fedroundd"
	"github.com/absmach/fedround/pkg/sdk"
	"github.com/spf13/cobra"
)

func main() {
	sdkConf := sdk.Config{
		ManagerURL:      cli.DefManagerURL,
		TLSVerification: cli.DefTLSVerification,
	}

	rootCmd := &cobra.Command{
		Use:   "fedround-cli",
		Short: "Fedround CLI",
		Long:  `Fedround CLI is a command line interface for managing federated rounds and running the collector.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			cli.SetSDK(sdk.NewSDK(sdkConf))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&sdkConf.ManagerURL, "manager-url", "m", sdkConf.ManagerURL, "Manager API URL")
	rootCmd.PersistentFlags().BoolVar(&sdkConf.TLSVerification, "tls-verification", sdkConf.TLSVerification, "Verify the manager TLS certificate")

	rootCmd.AddCommand(cli.NewTasksCmd())
	rootCmd.AddCommand(cli.NewIterationsCmd())
	rootCmd.AddCommand(cli.NewAssignmentsCmd())
	rootCmd.AddCommand(fedroundd.NewCollectorCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
