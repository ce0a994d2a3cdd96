package docker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/google/uuid"
	"github.com/kappal-app/agentstack/pkg/logging"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/supervisor"
)

// ExitStatusGone is the exit status reported for a container that
// disappeared before its exit code could be read.
const ExitStatusGone = -2

// Delay between wait attempts after the engine connection failed.
var waitRetryDelay = 2 * time.Second

const (
	LabelProject = "agentstack.io/project"
	LabelService = "agentstack.io/service"
	LabelRun     = "agentstack.io/run"
)

// engine is the part of the Docker client the runtime drives.
type engine interface {
	ContainerState(ctx context.Context, name string) (bool, bool, error)
	ContainerRemove(ctx context.Context, name string) error
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkName, name string) (string, error)
	ContainerStart(ctx context.Context, containerID string) error
	ContainerKill(ctx context.Context, name, signal string) error
	ContainerWait(ctx context.Context, name string) (int, error)
	NetworkCreate(ctx context.Context, name string, labels map[string]string) error
	NetworkRemove(ctx context.Context, name string) error
}

// ContainerName is the container that runs service for project.
func ContainerName(project, service string) string {
	return project + "-" + service
}

// Labels marks containers and networks as belonging to a project run.
func Labels(project, service, runID string) map[string]string {
	labels := map[string]string{LabelProject: project}
	if service != "" {
		labels[LabelService] = service
	}
	if runID != "" {
		labels[LabelRun] = runID
	}
	return labels
}

// ContainerSpec translates a resolved service into engine configuration:
// published port, bind mounts, environment and the init flag.
func ContainerSpec(project, runID string, svc stack.ServiceDescriptor) (*container.Config, *container.HostConfig, error) {
	exposed, bindings, err := svc.Port.PortMap()
	if err != nil {
		return nil, nil, fmt.Errorf("service %s: %w", svc.Name, err)
	}

	mounts := make([]mount.Mount, 0, len(svc.Volumes))
	for _, v := range svc.Volumes {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.HostPath,
			Target:   v.ContainerPath,
			ReadOnly: v.ReadOnly,
		})
	}

	config := &container.Config{
		Image:        svc.Image,
		Hostname:     svc.Name,
		Env:          svc.EnvList(),
		ExposedPorts: exposed,
		Labels:       Labels(project, svc.Name, runID),
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		Mounts:       mounts,
	}
	if svc.Init {
		// Run docker-init as PID 1 so orphaned browser processes are reaped.
		enabled := true
		hostConfig.Init = &enabled
	}
	return config, hostConfig, nil
}

// Runtime launches services as containers on a per-project bridge network.
type Runtime struct {
	engine  engine
	project string
	network string
	runID   string
}

// NewRuntime returns a runtime for one `up` invocation. Every container it
// creates carries the same run id.
func NewRuntime(c *Client, project, network string) *Runtime {
	return newRuntime(c, project, network)
}

func newRuntime(e engine, project, network string) *Runtime {
	return &Runtime{
		engine:  e,
		project: project,
		network: network,
		runID:   uuid.NewString(),
	}
}

// RunID identifies this invocation in container labels.
func (r *Runtime) RunID() string { return r.runID }

// Prepare creates the project network.
func (r *Runtime) Prepare(ctx context.Context) error {
	logging.Debug("docker", "Ensuring network %s", r.network)
	return r.engine.NetworkCreate(ctx, r.network, Labels(r.project, "", ""))
}

// Launch creates and starts the container for svc. A stopped container left
// over from an earlier run is replaced; a running one is an error.
func (r *Runtime) Launch(ctx context.Context, svc stack.ServiceDescriptor) (supervisor.Process, error) {
	name := ContainerName(r.project, svc.Name)

	exists, running, err := r.engine.ContainerState(ctx, name)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, fmt.Errorf("container %s is already running, run down first", name)
	}
	if exists {
		logging.Debug("docker", "Removing stale container %s", name)
		if err := r.engine.ContainerRemove(ctx, name); err != nil {
			return nil, err
		}
	}

	config, hostConfig, err := ContainerSpec(r.project, r.runID, svc)
	if err != nil {
		return nil, err
	}
	id, err := r.engine.ContainerCreate(ctx, config, hostConfig, r.network, name)
	if err != nil {
		return nil, err
	}
	if err := r.engine.ContainerStart(ctx, id); err != nil {
		_ = r.engine.ContainerRemove(context.WithoutCancel(ctx), id)
		return nil, err
	}
	logging.Info("docker", "Started %s (%s) on port %s", name, shortID(id), svc.Port)
	return newContainerProcess(r.engine, svc.Name, name), nil
}

// Attach returns a handle to the running container of service, for stopping
// a unit started by an earlier detached invocation. ok is false when the
// container does not exist or is not running.
func (r *Runtime) Attach(ctx context.Context, service string) (proc supervisor.Process, ok bool, err error) {
	name := ContainerName(r.project, service)
	exists, running, err := r.engine.ContainerState(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if !exists || !running {
		return nil, false, nil
	}
	return newContainerProcess(r.engine, service, name), true, nil
}

// Remove deletes the containers of services and the project network.
func (r *Runtime) Remove(ctx context.Context, services []string) error {
	for _, svc := range services {
		if err := r.engine.ContainerRemove(ctx, ContainerName(r.project, svc)); err != nil {
			return err
		}
	}
	return r.engine.NetworkRemove(ctx, r.network)
}

// containerProcess adapts a container to supervisor.Process. Exited is
// closed only once the container is known to have stopped or to be gone; a
// failed wait is retried so a live container is never reported as exited.
type containerProcess struct {
	engine    engine
	service   string
	container string

	exited chan struct{}
	status int
}

func newContainerProcess(e engine, service, name string) *containerProcess {
	p := &containerProcess{
		engine:    e,
		service:   service,
		container: name,
		exited:    make(chan struct{}),
	}
	go p.wait()
	return p
}

func (p *containerProcess) wait() {
	defer close(p.exited)
	ctx := context.Background()
	for {
		code, err := p.engine.ContainerWait(ctx, p.container)
		if err == nil {
			p.status = code
			return
		}
		if errors.Is(err, ErrContainerGone) {
			logging.Warn("docker", "Container %s was removed", p.container)
			p.status = ExitStatusGone
			return
		}

		exists, _, stateErr := p.engine.ContainerState(ctx, p.container)
		if stateErr == nil && !exists {
			logging.Warn("docker", "Container %s was removed", p.container)
			p.status = ExitStatusGone
			return
		}
		logging.Warn("docker", "Lost track of %s, retrying: %v", p.container, err)
		time.Sleep(waitRetryDelay)
	}
}

func (p *containerProcess) Name() string { return p.service }

func (p *containerProcess) Terminate(ctx context.Context) error {
	return p.engine.ContainerKill(ctx, p.container, "SIGTERM")
}

func (p *containerProcess) Kill(ctx context.Context) error {
	return p.engine.ContainerKill(ctx, p.container, "SIGKILL")
}

func (p *containerProcess) Exited() <-chan struct{} { return p.exited }

func (p *containerProcess) ExitStatus() int {
	select {
	case <-p.exited:
		return p.status
	default:
		return 0
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
