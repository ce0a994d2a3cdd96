package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Resolve the configuration exactly as "up" would and print it.

Shows, per service, the image, published port, environment and mounts, and
for each mount whether the requested host path was found, created, or
replaced by the placeholder. Nothing is started; the placeholder credentials
file and the workspace directory are still created when missing.

The output contains the values of GOOGLE_API_KEY and the other pass-through
credentials. Do not paste it anywhere public.

Flags:
  -o, --format <fmt>   Output format: yaml (default), json

Examples:
  agentstack config
  FRONTEND_PORT=4000 agentstack config -o json`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().StringVarP(&configFormat, "format", "o", "yaml", "Output format (yaml, json)")
}

func runConfig(cmd *cobra.Command, args []string) error {
	proj, err := loadProject(true)
	if err != nil {
		return err
	}
	plan, err := proj.compose()
	if err != nil {
		return err
	}

	switch configFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	case "yaml", "":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(plan); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", configFormat)
	}
}
