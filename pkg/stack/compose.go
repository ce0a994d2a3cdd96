package stack

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/kappal-app/agentstack/pkg/env"
	"github.com/kappal-app/agentstack/pkg/logging"
	"github.com/kappal-app/agentstack/pkg/ports"
	"github.com/kappal-app/agentstack/pkg/volumes"
)

// ServiceDescriptor is a fully resolved service, ready to hand to a runtime.
// It is not modified after Compose returns.
type ServiceDescriptor struct {
	Name        string               `json:"name" yaml:"name"`
	Build       BuildConfig          `json:"build" yaml:"build"`
	Image       string               `json:"image" yaml:"image"`
	Port        ports.Binding        `json:"port" yaml:"port"`
	Environment map[string]string    `json:"environment" yaml:"environment"`
	Volumes     []volumes.Resolution `json:"volumes,omitempty" yaml:"volumes,omitempty"`
	Init        bool                 `json:"init" yaml:"init"`
}

// EnvList renders the environment as sorted KEY=value pairs.
func (d ServiceDescriptor) EnvList() []string {
	keys := make([]string, 0, len(d.Environment))
	for k := range d.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+d.Environment[k])
	}
	return out
}

// Plan is the result of one composition run.
type Plan struct {
	Project  string              `json:"project" yaml:"project"`
	Network  string              `json:"network" yaml:"network"`
	Services []ServiceDescriptor `json:"services" yaml:"services"`
}

// Service looks a descriptor up by name.
func (p *Plan) Service(name string) (ServiceDescriptor, bool) {
	for _, s := range p.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceDescriptor{}, false
}

// ImageName is the tag built for a service without an explicit image.
func ImageName(project, service string) string {
	return fmt.Sprintf("%s-%s:latest", project, service)
}

// NetworkName is the bridge network both services join.
func NetworkName(project string) string {
	return project + "-net"
}

// Compose resolves every declaration against the snapshot. Configuration is
// resolved for all services first, then volumes, then ports; any failure
// aborts the whole plan so nothing is launched half-configured.
func Compose(project string, decls []Declaration, snap env.Snapshot, projectDir string) (*Plan, error) {
	if project == "" {
		return nil, fmt.Errorf("project name is required")
	}
	seen := make(map[string]struct{}, len(decls))
	for _, d := range decls {
		if d.Name == "" {
			return nil, fmt.Errorf("service with empty name")
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("duplicate service %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}

	// Host port values are visible to defaults such as STATIC_FILE_BASE_URL.
	portVars := make(map[string]string, len(decls))
	for _, d := range decls {
		v, err := env.ResolveValue(d.PortEnv, snap)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", d.Name, err)
		}
		portVars[d.PortEnv.Key] = v
	}

	environments := make(map[string]map[string]string, len(decls))
	for _, d := range decls {
		resolved, err := env.Resolve(d.Env, snap, env.WithVars(portVars))
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", d.Name, err)
		}
		environments[d.Name] = resolved
	}

	mounts := make(map[string][]volumes.Resolution, len(decls))
	for _, d := range decls {
		for _, vb := range d.Volumes {
			res, err := volumes.Resolve(vb, snap, projectDir)
			if err != nil {
				return nil, fmt.Errorf("service %s: %w", d.Name, err)
			}
			if res.Outcome == volumes.FallbackUsed {
				logging.Warn("stack", "%s: %s not found, mounting placeholder %s at %s",
					d.Name, describeRequested(res), res.HostPath, res.ContainerPath)
			}
			mounts[d.Name] = append(mounts[d.Name], res)
		}
	}

	bindings := make(map[string]ports.Binding, len(decls))
	for _, d := range decls {
		b, err := ports.Resolve(d.PortEnv, d.ContainerPort, snap)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", d.Name, err)
		}
		bindings[d.Name] = b
	}
	if err := ports.CheckConflicts(Names(decls), bindings); err != nil {
		return nil, err
	}

	plan := &Plan{
		Project: project,
		Network: NetworkName(project),
	}
	for _, d := range decls {
		build := d.Build
		if build.Context != "" && !filepath.IsAbs(build.Context) {
			build.Context = filepath.Join(projectDir, build.Context)
		}
		image := build.Image
		if image == "" {
			image = ImageName(project, d.Name)
		}
		plan.Services = append(plan.Services, ServiceDescriptor{
			Name:        d.Name,
			Build:       build,
			Image:       image,
			Port:        bindings[d.Name],
			Environment: environments[d.Name],
			Volumes:     mounts[d.Name],
			Init:        d.Init,
		})
		logging.Debug("stack", "resolved %s: port %s, %d env vars, %d mounts",
			d.Name, bindings[d.Name], len(environments[d.Name]), len(mounts[d.Name]))
	}
	return plan, nil
}

func describeRequested(res volumes.Resolution) string {
	if res.Requested == "" {
		return "credentials file (unset)"
	}
	return res.Requested
}
