package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/types"
	"github.com/kappal-app/agentstack/pkg/docker"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/workspace"
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9\-.]`)

// sanitizeName converts a name to be valid for Kubernetes resources
// - Replaces underscores with hyphens
// - Converts to lowercase
// - Removes invalid characters
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ToLower(name)
	name = invalidNameChars.ReplaceAllString(name, "")
	return strings.Trim(name, "-.")
}

// labelValue makes v a valid Kubernetes label value: sanitized and at most
// 63 characters.
func labelValue(v string) string {
	v = sanitizeName(v)
	if len(v) > 63 {
		v = strings.Trim(v[:63], "-.")
	}
	return v
}

// Transformer exports a resolved plan to other deployment formats.
type Transformer struct {
	plan *stack.Plan
}

// NewTransformer creates a new transformer for the given plan
func NewTransformer(plan *stack.Plan) *Transformer {
	return &Transformer{plan: plan}
}

// ToProject renders the plan as a Compose project. Values are the resolved
// ones, so the file runs without agentstack or the original environment.
func (t *Transformer) ToProject() *types.Project {
	project := &types.Project{
		Name:     t.plan.Project,
		Services: types.Services{},
		Networks: types.Networks{
			t.plan.Network: types.NetworkConfig{
				Name:   t.plan.Network,
				Driver: "bridge",
				Labels: types.Labels(docker.Labels(t.plan.Project, "", "")),
			},
		},
	}

	for _, svc := range t.plan.Services {
		env := types.MappingWithEquals{}
		for k, v := range svc.Environment {
			value := v
			env[k] = &value
		}

		var mounts []types.ServiceVolumeConfig
		for _, v := range svc.Volumes {
			mounts = append(mounts, types.ServiceVolumeConfig{
				Type:     types.VolumeTypeBind,
				Source:   v.HostPath,
				Target:   v.ContainerPath,
				ReadOnly: v.ReadOnly,
			})
		}

		cfg := types.ServiceConfig{
			Name:          svc.Name,
			Image:         svc.Image,
			ContainerName: docker.ContainerName(t.plan.Project, svc.Name),
			Environment:   env,
			Ports: []types.ServicePortConfig{{
				Mode:      "ingress",
				Target:    uint32(svc.Port.ContainerPort),
				Published: strconv.Itoa(svc.Port.HostPort),
				Protocol:  svc.Port.Protocol,
			}},
			Volumes: mounts,
			Networks: map[string]*types.ServiceNetworkConfig{
				t.plan.Network: nil,
			},
			Labels: types.Labels(docker.Labels(t.plan.Project, svc.Name, "")),
		}
		if svc.Build.Context != "" {
			cfg.Build = &types.BuildConfig{
				Context:    svc.Build.Context,
				Dockerfile: svc.Build.Dockerfile,
			}
		}
		if svc.Init {
			enabled := true
			cfg.Init = &enabled
		}
		project.Services[svc.Name] = cfg
	}
	return project
}

// ComposeYAML renders the plan as a compose.yaml document.
func (t *Transformer) ComposeYAML() ([]byte, error) {
	data, err := t.ToProject().MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("failed to render compose file: %w", err)
	}
	return data, nil
}

// GenerateManifests writes the Kubernetes export of the plan into the
// workspace manifest directory as one combined file, replacing earlier exports.
func (t *Transformer) GenerateManifests(ws *workspace.Workspace) error {
	manifests, err := t.KubernetesManifests()
	if err != nil {
		return err
	}
	if err := ws.CleanManifests(); err != nil {
		return fmt.Errorf("failed to clear old manifests: %w", err)
	}
	return ws.WriteManifest("all.yaml", Combine(manifests))
}
