package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kappal-app/agentstack/pkg/logging"
	"github.com/kappal-app/agentstack/pkg/stack"
)

// imageBuilder is the part of the Docker client used for builds.
type imageBuilder interface {
	ImageBuild(ctx context.Context, contextDir, dockerfile, imageName string, out io.Writer) error
	ImageExists(ctx context.Context, imageName string) bool
}

// Engine builds service images
type Engine struct {
	docker imageBuilder
	out    io.Writer
}

// NewEngine returns an engine that streams build output to out.
func NewEngine(docker imageBuilder, out io.Writer) *Engine {
	return &Engine{docker: docker, out: out}
}

// Build builds the image of one service
func (e *Engine) Build(ctx context.Context, svc stack.ServiceDescriptor) error {
	if svc.Build.Context == "" {
		return fmt.Errorf("service %s has no build context", svc.Name)
	}
	info, err := os.Stat(svc.Build.Context)
	if err != nil {
		return fmt.Errorf("service %s: build context: %w", svc.Name, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("service %s: build context %s is not a directory", svc.Name, svc.Build.Context)
	}

	dockerfile := svc.Build.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}
	if _, err := os.Stat(filepath.Join(svc.Build.Context, dockerfile)); err != nil {
		return fmt.Errorf("service %s: dockerfile: %w", svc.Name, err)
	}

	logging.Info("build", "Building %s from %s", svc.Image, filepath.Join(svc.Build.Context, dockerfile))
	if err := e.docker.ImageBuild(ctx, svc.Build.Context, dockerfile, svc.Image, e.out); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return nil
}

// BuildAll builds every service in order, stopping at the first failure.
func (e *Engine) BuildAll(ctx context.Context, services []stack.ServiceDescriptor) error {
	for _, svc := range services {
		if err := e.Build(ctx, svc); err != nil {
			return err
		}
	}
	return nil
}

// Missing returns the services whose image is not present locally.
func (e *Engine) Missing(ctx context.Context, services []stack.ServiceDescriptor) []stack.ServiceDescriptor {
	var missing []stack.ServiceDescriptor
	for _, svc := range services {
		if !e.docker.ImageExists(ctx, svc.Image) {
			missing = append(missing, svc)
		}
	}
	return missing
}
