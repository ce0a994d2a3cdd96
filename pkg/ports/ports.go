package ports

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"github.com/kappal-app/agentstack/pkg/env"
)

const (
	MinPort = 1
	MaxPort = 65535
)

var ErrInvalidPort = errors.New("invalid port")

// InvalidPortError reports the binding key, the offending value and why it was
// rejected.
type InvalidPortError struct {
	Key    string
	Value  string
	Reason string
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("%s: %s=%q: %s", ErrInvalidPort, e.Key, e.Value, e.Reason)
}

func (e *InvalidPortError) Unwrap() error { return ErrInvalidPort }

// Binding maps a host port to a fixed container port.
type Binding struct {
	HostPort      int    `json:"host_port" yaml:"host_port"`
	ContainerPort int    `json:"container_port" yaml:"container_port"`
	Protocol      string `json:"protocol" yaml:"protocol"`
}

// String renders the binding in Compose short syntax, e.g. "3000:3000/tcp".
func (b Binding) String() string {
	return fmt.Sprintf("%d:%d/%s", b.HostPort, b.ContainerPort, b.Protocol)
}

// Resolve reads the host port from the binding (applying its default) and
// validates it. Out-of-range or non-numeric values are rejected, never clamped.
func Resolve(b env.Binding, containerPort int, snap env.Snapshot) (Binding, error) {
	if err := validate(b.Key+" (container)", strconv.Itoa(containerPort)); err != nil {
		return Binding{}, err
	}

	raw, err := env.ResolveValue(b, snap)
	if err != nil {
		return Binding{}, err
	}
	raw = strings.TrimSpace(raw)
	if err := validate(b.Key, raw); err != nil {
		return Binding{}, err
	}
	host, _ := strconv.Atoi(raw)

	return Binding{
		HostPort:      host,
		ContainerPort: containerPort,
		Protocol:      "tcp",
	}, nil
}

func validate(key, raw string) error {
	if raw == "" {
		return &InvalidPortError{Key: key, Value: raw, Reason: "no value and no default"}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return &InvalidPortError{Key: key, Value: raw, Reason: "not a number"}
	}
	if n < MinPort || n > MaxPort {
		return &InvalidPortError{Key: key, Value: raw, Reason: fmt.Sprintf("must be between %d and %d", MinPort, MaxPort)}
	}
	// nat is the engine's own parser; keep both in agreement.
	if _, err := nat.ParsePort(raw); err != nil {
		return &InvalidPortError{Key: key, Value: raw, Reason: err.Error()}
	}
	return nil
}

// PortMap returns the exposed port set and host bindings the Docker engine
// expects for this binding.
func (b Binding) PortMap() (nat.PortSet, nat.PortMap, error) {
	proto := b.Protocol
	if proto == "" {
		proto = "tcp"
	}
	port, err := nat.NewPort(proto, strconv.Itoa(b.ContainerPort))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build container port %d/%s: %w", b.ContainerPort, proto, err)
	}
	exposed := nat.PortSet{port: struct{}{}}
	bindings := nat.PortMap{
		port: []nat.PortBinding{{HostIP: "", HostPort: strconv.Itoa(b.HostPort)}},
	}
	return exposed, bindings, nil
}

// CheckConflicts rejects two services that claim the same host port. names
// fixes the order in which services are checked.
func CheckConflicts(names []string, bindings map[string]Binding) error {
	seen := make(map[int]string, len(bindings))
	for _, name := range names {
		b, ok := bindings[name]
		if !ok {
			continue
		}
		if other, dup := seen[b.HostPort]; dup {
			return &InvalidPortError{
				Key:    name,
				Value:  strconv.Itoa(b.HostPort),
				Reason: fmt.Sprintf("host port already bound by %s", other),
			}
		}
		seen[b.HostPort] = name
	}
	return nil
}
