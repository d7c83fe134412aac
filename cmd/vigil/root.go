package main

import (
	"fmt"

	"github.com/dusk-indust/vigil/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "vigil",
		Short: "Supervise negotiation conversations with perspective agents",
		Long: `vigil routes a conversation snapshot to its department, enriches it
with CRM context, runs parallel perspective agents, audits the consolidated
extraction and decides which tool to dispatch.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.Init(cfgFile)
		},
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/vigil/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: DEBUG, INFO, WARN or ERROR")
	_ = viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newRunCmd(),
		newServeCmd(),
		newAgentsCmd(),
		newRunsCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the vigil version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
