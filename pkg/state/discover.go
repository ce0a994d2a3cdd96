package state

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/docker/go-connections/nat"
	"github.com/kappal-app/agentstack/pkg/docker"
)

// lister is the read-only part of the Docker client Discover needs.
type lister interface {
	ContainerListByLabels(ctx context.Context, labels map[string]string) ([]docker.ContainerListEntry, error)
	NetworkListByLabels(ctx context.Context, labels map[string]string) ([]string, error)
	ContainerInspectPorts(ctx context.Context, name string) (nat.PortMap, error)
}

// Discover finds the live containers and network of a project. Everything
// comes from labels on live resources, never from naming conventions.
func Discover(ctx context.Context, l lister, projectName string) (*State, error) {
	st := &State{
		Project:  projectName,
		Services: make(map[string]*ServiceInfo),
	}

	containers, err := l.ContainerListByLabels(ctx, map[string]string{
		docker.LabelProject: projectName,
		docker.LabelService: "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover containers: %w", err)
	}

	networks, err := l.NetworkListByLabels(ctx, map[string]string{docker.LabelProject: projectName})
	if err != nil {
		return nil, fmt.Errorf("failed to discover networks: %w", err)
	}
	if len(networks) > 0 {
		st.Network = networks[0]
	}

	for _, ctr := range containers {
		svcName := ctr.Labels[docker.LabelService]
		info := &ServiceInfo{
			Name:      svcName,
			Container: ctr.Name,
			ID:        ctr.ID,
			Status:    ctr.Status,
			RunID:     ctr.Labels[docker.LabelRun],
			Ports:     []PortInfo{},
		}
		if ctr.Status == "running" {
			portMap, err := l.ContainerInspectPorts(ctx, ctr.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to inspect ports of %s: %w", ctr.Name, err)
			}
			info.Ports = publishedPorts(portMap)
		}
		st.Services[svcName] = info
	}
	return st, nil
}

func publishedPorts(portMap nat.PortMap) []PortInfo {
	ports := []PortInfo{}
	for natPort, bindings := range portMap {
		if len(bindings) == 0 {
			continue
		}
		hp, err := strconv.Atoi(bindings[0].HostPort)
		if err != nil {
			continue
		}
		ports = append(ports, PortInfo{
			Host:      hp,
			Container: natPort.Int(),
			Protocol:  natPort.Proto(),
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Container < ports[j].Container })
	return ports
}
