package main

import (
	"os"

	"github.com/kappal-app/agentstack/pkg/build"
	"github.com/kappal-app/agentstack/pkg/docker"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [SERVICE...]",
	Short: "Build or rebuild service images",
	Long: `Build the images of the frontend and backend (or only the named services).

Each image is built with the local Docker daemon from its Dockerfile
(docker/frontend/Dockerfile and docker/backend/Dockerfile by default, with
the project directory as context). The build context honours .dockerignore.
Build locations can be overridden per service in .agentstack/config.yaml.

Examples:
  agentstack build            Build both images
  agentstack build backend    Build only the backend image`,
	RunE: runBuild,
}

func runBuild(cmd *cobra.Command, args []string) error {
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
	services, err := selectServices(plan, args)
	if err != nil {
		return err
	}

	dockerClient, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = dockerClient.Close() }()
	if err := dockerClient.Ping(ctx); err != nil {
		return err
	}

	return build.NewEngine(dockerClient, os.Stdout).BuildAll(ctx, services)
}
