package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kappal-app/agentstack/pkg/docker"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/state"
	"github.com/kappal-app/agentstack/pkg/supervisor"
	"github.com/spf13/cobra"
)

var (
	downVolumes     bool
	downGracePeriod time.Duration
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove containers",
	Long: `Stop and remove the containers and network of the project.

Running services are sent SIGTERM in parallel; any service still running
after the grace period is killed. Containers are found by their labels, so
this also stops a unit started with "up -d" from another shell.

The agent workspace directory is never removed. Use --volumes/-v to also
remove agentstack's runtime state (the saved plan and the placeholder
credentials file).

Flags:
  -v, --volumes            Remove the runtime state directory
  --grace-period <dur>     Time to wait for a graceful stop (default from settings, 10s)
  -p <name>                Override project name

Examples:
  agentstack down                     Stop both services
  agentstack down --grace-period 30s  Give the backend longer to shut down`,
	RunE: runDown,
}

func init() {
	downCmd.Flags().BoolVarP(&downVolumes, "volumes", "v", false, "Remove runtime state")
	downCmd.Flags().DurationVar(&downGracePeriod, "grace-period", 0, "Time to wait for services to stop before killing them")
}

func runDown(cmd *cobra.Command, args []string) error {
	proj, err := loadProject(false)
	if err != nil {
		return err
	}

	grace := downGracePeriod
	if grace <= 0 {
		grace = proj.Settings.GracePeriod
	}
	// Stopping must finish even if the user hits Ctrl+C again.
	ctx, cancel := context.WithTimeout(context.Background(), grace+time.Minute)
	defer cancel()

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = dockerClient.Close() }()

	st, err := state.Discover(ctx, dockerClient, proj.Name)
	if err != nil {
		return err
	}
	network := st.Network
	if network == "" {
		network = stack.NetworkName(proj.Name)
	}
	rt := docker.NewRuntime(dockerClient, proj.Name, network)

	services := make([]string, 0, len(st.Services))
	for name := range st.Services {
		services = append(services, name)
	}
	sort.Strings(services)

	var procs []supervisor.Process
	for _, name := range services {
		proc, ok, err := rt.Attach(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("Stopping %s\n", name)
			procs = append(procs, proc)
		}
	}
	stopErr := supervisor.Terminate(ctx, procs, grace)

	if err := rt.Remove(ctx, services); err != nil {
		return errors.Join(stopErr, err)
	}
	for _, name := range services {
		fmt.Printf("Removed %s\n", name)
	}

	if downVolumes && proj.Workspace != nil {
		if err := proj.Workspace.CleanRuntime(); err != nil {
			return errors.Join(stopErr, err)
		}
		fmt.Println("Removed runtime state")
	}
	return stopErr
}
