package main

import (
	"fmt"
	"os"

	"github.com/kappal-app/agentstack/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	projectName string
	projectDir  string
	envFiles    []string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "agentstack",
	Short: "Run the agent frontend and backend as one unit",
	Long: `agentstack builds and runs the agent web frontend and the agent runtime
backend as two containers supervised together.

Configuration comes from the environment (and .env files): ports, identity
provider credentials, the cloud credentials file and the workspace directory.
A missing credentials file is replaced by a placeholder so the backend still
starts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logging.InitForCLI(level, os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectName, "project-name", "p", "", "Project name (defaults to directory name)")
	rootCmd.PersistentFlags().StringVar(&projectDir, "project-directory", "", "Project directory (defaults to the working directory)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env files to read (default from settings, .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", fmt.Sprintf("Log level (%s)", "debug, info, warn, error"))

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(psCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(ejectCmd)
}
