package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kappal-app/agentstack/pkg/build"
	"github.com/kappal-app/agentstack/pkg/docker"
	"github.com/kappal-app/agentstack/pkg/logging"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/supervisor"
	"github.com/spf13/cobra"
)

var (
	upDetach      bool
	upBuild       bool
	upGracePeriod time.Duration
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Build, create and start the frontend and backend",
	Long: `Resolve the configuration, then create and start both services.

The environment is read once (process environment over .env files). Ports,
credentials and the workspace directory are resolved from it with their
defaults: FRONTEND_PORT=3000, BACKEND_PORT=8000 and
STATIC_FILE_BASE_URL=http://localhost:${BACKEND_PORT}. When
GOOGLE_APPLICATION_CREDENTIALS is unset or points at a missing file, a
placeholder "{}" file is mounted instead. The workspace directory
(AGENT_WORKSPACE_DIR, default ~/.ii_agent) is created when missing.

Images that do not exist locally are built first. The frontend is started,
then the backend. If a service fails to launch, the ones already running are
stopped. In the foreground, logs of both services are interleaved until
Ctrl+C, after which each service gets the grace period to exit before it is
killed.

A service that crashes does not take the other one down; up exits non-zero
once everything has stopped.

Flags:
  -d, --detach             Start in the background and return
  --build                  Rebuild images even if they exist
  --grace-period <dur>     Time to wait for a graceful stop (default from settings, 10s)
  -p <name>                Override project name

Examples:
  agentstack up                        Start in the foreground
  agentstack up -d                     Start in the background
  agentstack up --build                Rebuild images then start
  BACKEND_PORT=9000 agentstack up -d   Publish the backend on 9000`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().BoolVarP(&upDetach, "detach", "d", false, "Run containers in the background")
	upCmd.Flags().BoolVar(&upBuild, "build", false, "Build images before starting containers")
	upCmd.Flags().DurationVar(&upGracePeriod, "grace-period", 0, "Time to wait for services to stop before killing them")
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	proj, err := loadProject(true)
	if err != nil {
		return err
	}
	plan, err := proj.compose()
	if err != nil {
		return err
	}
	printPlan(plan)

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = dockerClient.Close() }()
	if err := dockerClient.Ping(ctx); err != nil {
		return err
	}

	builder := build.NewEngine(dockerClient, os.Stdout)
	toBuild := plan.Services
	if !upBuild {
		toBuild = builder.Missing(ctx, plan.Services)
	}
	if err := builder.BuildAll(ctx, toBuild); err != nil {
		return err
	}

	if err := proj.Workspace.WritePlan(plan); err != nil {
		return err
	}

	rt := docker.NewRuntime(dockerClient, plan.Project, plan.Network)
	if err := rt.Prepare(ctx); err != nil {
		return err
	}

	grace := upGracePeriod
	if grace <= 0 {
		grace = proj.Settings.GracePeriod
	}
	unit := supervisor.NewUnit(rt, plan.Services, supervisor.WithGracePeriod(grace))
	if err := unit.Start(ctx); err != nil {
		return err
	}
	logging.Debug("up", "Run %s started", rt.RunID())
	printURLs(plan)

	if upDetach {
		return nil
	}

	logCtx, cancelLogs := context.WithCancel(ctx)
	logsDone := streamLogs(logCtx, dockerClient, plan.Project, serviceNames(plan.Services), true, "all")

	waitErr := unit.Wait(ctx)
	cancelLogs()
	<-logsDone

	if ctx.Err() != nil {
		fmt.Println("\nStopping services...")
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), grace+time.Minute)
	defer cancel()
	stopErr := unit.Stop(stopCtx)

	for _, st := range unit.Status() {
		switch {
		case st.State != supervisor.StateCrashed:
		case st.ExitStatus == docker.ExitStatusGone:
			fmt.Printf("%s was removed while running\n", st.Name)
		default:
			fmt.Printf("%s exited with status %d\n", st.Name, st.ExitStatus)
		}
	}
	return errors.Join(waitErr, stopErr)
}

func printPlan(plan *stack.Plan) {
	fmt.Printf("Project %s\n", plan.Project)
	for _, svc := range plan.Services {
		fmt.Printf("  %-10s %s  port %s\n", svc.Name, svc.Image, svc.Port)
		for _, v := range svc.Volumes {
			fmt.Printf("  %-10s   %s -> %s (%s)\n", "", v.HostPath, v.ContainerPath, v.Outcome)
		}
	}
}

func printURLs(plan *stack.Plan) {
	for _, svc := range plan.Services {
		fmt.Printf("%s: http://localhost:%d\n", svc.Name, svc.Port.HostPort)
	}
}
