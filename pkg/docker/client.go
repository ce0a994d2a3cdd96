package docker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerfilters "github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// labelFilters builds a filter set matching every label pair.
func labelFilters(labels map[string]string) dockerfilters.Args {
	f := dockerfilters.NewArgs()
	for k, v := range labels {
		if v == "" {
			f.Add("label", k)
			continue
		}
		f.Add("label", k+"="+v)
	}
	return f
}

// Client wraps the Docker SDK client
type Client struct {
	cli *client.Client
}

// NewClient creates a Docker client from environment
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{cli: cli}, nil
}

// Close closes the Docker client
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return nil
}

// ContainerState returns (exists, running, error) for a container
func (c *Client) ContainerState(ctx context.Context, name string) (exists bool, running bool, err error) {
	inspect, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return true, inspect.State.Running, nil
}

// ContainerRemove force-removes a container. A missing container is not an error.
func (c *Client) ContainerRemove(ctx context.Context, name string) error {
	err := c.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// ContainerCreate creates a container without starting it, attached to
// networkName when set.
func (c *Client) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkName, name string) (string, error) {
	var networkingConfig *network.NetworkingConfig
	if networkName != "" {
		networkingConfig = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				networkName: {},
			},
		}
	}
	resp, err := c.cli.ContainerCreate(ctx, config, hostConfig, networkingConfig, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", name, err)
	}
	return resp.ID, nil
}

// ContainerStart starts an existing container
func (c *Client) ContainerStart(ctx context.Context, containerID string) error {
	if err := c.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	return nil
}

// ContainerKill sends signal to the container's main process. A container
// that is gone or no longer running is not an error.
func (c *Client) ContainerKill(ctx context.Context, name, signal string) error {
	err := c.cli.ContainerKill(ctx, name, signal)
	if err != nil {
		if errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
			return nil
		}
		return fmt.Errorf("failed to send %s to container %s: %w", signal, name, err)
	}
	return nil
}

// ErrContainerGone is returned by ContainerWait when the container no longer
// exists, for example because it was removed outside agentstack.
var ErrContainerGone = errors.New("container no longer exists")

// ContainerWait blocks until the container is not running and returns its
// exit code.
func (c *Client) ContainerWait(ctx context.Context, name string) (int, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, name, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return int(status.StatusCode), errors.New(status.Error.Message)
		}
		return int(status.StatusCode), nil
	case err := <-errCh:
		if errdefs.IsNotFound(err) {
			return ExitStatusGone, fmt.Errorf("%w: %s", ErrContainerGone, name)
		}
		return -1, fmt.Errorf("failed to wait for container %s: %w", name, err)
	}
}

// ContainerLogs copies the demultiplexed log stream of a container.
func (c *Client) ContainerLogs(ctx context.Context, name string, follow bool, tail string, stdout, stderr io.Writer) error {
	reader, err := c.cli.ContainerLogs(ctx, name, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
	})
	if err != nil {
		return fmt.Errorf("failed to read logs of %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()

	if _, err := stdcopy.StdCopy(stdout, stderr, reader); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to stream logs of %s: %w", name, err)
	}
	return nil
}

// ContainerInspectPorts returns the port bindings of a container.
func (c *Client) ContainerInspectPorts(ctx context.Context, name string) (nat.PortMap, error) {
	inspect, err := c.cli.ContainerInspect(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return inspect.HostConfig.PortBindings, nil
}

// NetworkCreate creates a labelled bridge network. An existing network of the
// same name is reused.
func (c *Client) NetworkCreate(ctx context.Context, name string, labels map[string]string) error {
	_, err := c.cli.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver:         "bridge",
		CheckDuplicate: true,
		Labels:         labels,
	})
	if err != nil {
		if errdefs.IsConflict(err) || strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	return nil
}

// NetworkRemove removes a Docker network. Idempotent - returns nil if network doesn't exist.
func (c *Client) NetworkRemove(ctx context.Context, name string) error {
	err := c.cli.NetworkRemove(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove network %s: %w", name, err)
	}
	return nil
}

// ContainerListEntry holds summary info about a discovered container.
type ContainerListEntry struct {
	Name   string
	ID     string
	Status string // "running" or "stopped"
	Labels map[string]string
}

// ContainerListByLabels finds containers carrying all given labels. An empty
// value matches any value of that key.
func (c *Client) ContainerListByLabels(ctx context.Context, labels map[string]string) ([]ContainerListEntry, error) {
	containers, err := c.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: labelFilters(labels),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers by labels: %w", err)
	}
	var entries []ContainerListEntry
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		status := "stopped"
		if ctr.State == "running" {
			status = "running"
		}
		entries = append(entries, ContainerListEntry{
			Name:   name,
			ID:     ctr.ID,
			Status: status,
			Labels: ctr.Labels,
		})
	}
	return entries, nil
}

// NetworkListByLabels returns the names of networks carrying all given labels.
func (c *Client) NetworkListByLabels(ctx context.Context, labels map[string]string) ([]string, error) {
	networks, err := c.cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: labelFilters(labels),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list networks by labels: %w", err)
	}
	var names []string
	for _, n := range networks {
		names = append(names, n.Name)
	}
	return names, nil
}

// readDockerignore reads .dockerignore file and returns exclude patterns
func readDockerignore(contextDir string) ([]string, error) {
	f, err := os.Open(filepath.Join(contextDir, ".dockerignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var excludes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		excludes = append(excludes, line)
	}
	return excludes, scanner.Err()
}

// buildExcludes returns the .dockerignore patterns of contextDir plus a
// negation that keeps the Dockerfile in the context even when a pattern such
// as "Dockerfile*" would drop it.
func buildExcludes(contextDir, dockerfile string) ([]string, error) {
	excludes, err := readDockerignore(contextDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read .dockerignore: %w", err)
	}
	normalized := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(dockerfile)), "./")
	return append(excludes, "!"+normalized), nil
}

// ImageBuild builds imageName from contextDir and streams the build output
// to out.
func (c *Client) ImageBuild(ctx context.Context, contextDir, dockerfile, imageName string, out io.Writer) error {
	excludes, err := buildExcludes(contextDir, dockerfile)
	if err != nil {
		return err
	}

	tarCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{
		ExcludePatterns: excludes,
	})
	if err != nil {
		return fmt.Errorf("failed to create build context tar: %w", err)
	}
	defer func() { _ = tarCtx.Close() }()

	resp, err := c.cli.ImageBuild(ctx, tarCtx, types.ImageBuildOptions{
		Tags:       []string{imageName},
		Dockerfile: dockerfile,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", imageName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		out = io.Discard
	}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, out, 0, false, nil); err != nil {
		return fmt.Errorf("build failed for image %s: %w", imageName, err)
	}
	return nil
}

// ImageExists checks if an image exists locally
func (c *Client) ImageExists(ctx context.Context, imageName string) bool {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, imageName)
	return err == nil
}
