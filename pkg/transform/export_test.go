package transform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yamlv3 "gopkg.in/yaml.v3"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"

	"github.com/kappal-app/agentstack/pkg/ports"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/volumes"
	"github.com/kappal-app/agentstack/pkg/workspace"
)

func testPlan(t *testing.T) *stack.Plan {
	t.Helper()
	dir := t.TempDir()
	creds := filepath.Join(dir, "dummy-credentials.json")
	require.NoError(t, os.WriteFile(creds, []byte("{}\n"), 0644))
	ws := filepath.Join(dir, "ii_agent")
	require.NoError(t, os.MkdirAll(ws, 0755))

	return &stack.Plan{
		Project: "agent",
		Network: "agent-net",
		Services: []stack.ServiceDescriptor{
			{
				Name:        stack.FrontendName,
				Image:       "agent-frontend:latest",
				Build:       stack.BuildConfig{Context: dir, Dockerfile: "docker/frontend/Dockerfile"},
				Port:        ports.Binding{HostPort: 3000, ContainerPort: 3000, Protocol: "tcp"},
				Environment: map[string]string{"NODE_ENV": "production", "GOOGLE_CLIENT_ID": "id"},
			},
			{
				Name:        stack.BackendName,
				Image:       "agent-backend:latest",
				Build:       stack.BuildConfig{Context: dir, Dockerfile: "docker/backend/Dockerfile"},
				Port:        ports.Binding{HostPort: 8000, ContainerPort: 8000, Protocol: "tcp"},
				Environment: map[string]string{"STATIC_FILE_BASE_URL": "http://localhost:8000"},
				Volumes: []volumes.Resolution{
					{Outcome: volumes.Found, HostPath: ws, ContainerPath: stack.WorkspaceContainerPath},
					{Outcome: volumes.FallbackUsed, HostPath: creds, ContainerPath: stack.CredentialsContainerPath, ReadOnly: true},
				},
				Init: true,
			},
		},
	}
}

func TestComposeYAML(t *testing.T) {
	data, err := NewTransformer(testPlan(t)).ComposeYAML()
	require.NoError(t, err)

	var doc struct {
		Name     string `yaml:"name"`
		Services map[string]struct {
			Image       string            `yaml:"image"`
			Init        bool              `yaml:"init"`
			Environment map[string]string `yaml:"environment"`
			Ports       []struct {
				Target    int    `yaml:"target"`
				Published string `yaml:"published"`
			} `yaml:"ports"`
			Volumes []struct {
				Type     string `yaml:"type"`
				Target   string `yaml:"target"`
				ReadOnly bool   `yaml:"read_only"`
			} `yaml:"volumes"`
		} `yaml:"services"`
		Networks map[string]interface{} `yaml:"networks"`
	}
	require.NoError(t, yamlv3.Unmarshal(data, &doc))

	assert.Equal(t, "agent", doc.Name)
	require.Contains(t, doc.Services, "backend")
	backend := doc.Services["backend"]
	assert.Equal(t, "agent-backend:latest", backend.Image)
	assert.True(t, backend.Init)
	assert.Equal(t, "http://localhost:8000", backend.Environment["STATIC_FILE_BASE_URL"])
	require.Len(t, backend.Ports, 1)
	assert.Equal(t, 8000, backend.Ports[0].Target)
	assert.Equal(t, "8000", backend.Ports[0].Published)
	require.Len(t, backend.Volumes, 2)
	assert.Equal(t, "bind", backend.Volumes[1].Type)
	assert.Equal(t, stack.CredentialsContainerPath, backend.Volumes[1].Target)
	assert.True(t, backend.Volumes[1].ReadOnly)

	frontend := doc.Services["frontend"]
	assert.False(t, frontend.Init)
	assert.Equal(t, "production", frontend.Environment["NODE_ENV"])
	assert.Contains(t, doc.Networks, "agent-net")
}

func TestKubernetesManifests(t *testing.T) {
	manifests, err := NewTransformer(testPlan(t)).KubernetesManifests()
	require.NoError(t, err)

	var kinds []string
	for _, m := range manifests {
		kinds = append(kinds, m.Kind+"/"+m.Name)
	}
	assert.Equal(t, []string{
		"Namespace/agent",
		"Deployment/frontend",
		"Service/frontend",
		"PersistentVolumeClaim/backend-vol-0",
		"Secret/backend-vol-1",
		"Deployment/backend",
		"Service/backend",
	}, kinds)

	var backend appsv1.Deployment
	require.NoError(t, yaml.Unmarshal(manifests[5].Content, &backend))
	pod := backend.Spec.Template.Spec
	require.NotNil(t, pod.ShareProcessNamespace)
	assert.True(t, *pod.ShareProcessNamespace)
	require.Len(t, pod.Containers, 1)
	assert.Equal(t, []corev1.EnvVar{{Name: "STATIC_FILE_BASE_URL", Value: "http://localhost:8000"}}, pod.Containers[0].Env)

	mounts := pod.Containers[0].VolumeMounts
	require.Len(t, mounts, 2)
	assert.Equal(t, stack.WorkspaceContainerPath, mounts[0].MountPath)
	assert.Equal(t, stack.CredentialsContainerPath, mounts[1].MountPath)
	assert.Equal(t, "google-application-credentials.json", mounts[1].SubPath)

	var secret corev1.Secret
	require.NoError(t, yaml.Unmarshal(manifests[4].Content, &secret))
	assert.Equal(t, "{}\n", string(secret.Data["google-application-credentials.json"]))

	var frontend appsv1.Deployment
	require.NoError(t, yaml.Unmarshal(manifests[1].Content, &frontend))
	assert.Nil(t, frontend.Spec.Template.Spec.ShareProcessNamespace)

	var svc corev1.Service
	require.NoError(t, yaml.Unmarshal(manifests[6].Content, &svc))
	require.Len(t, svc.Spec.Ports, 1)
	assert.Equal(t, int32(8000), svc.Spec.Ports[0].Port)
	assert.Equal(t, 8000, svc.Spec.Ports[0].TargetPort.IntValue())
}

func TestKubernetesManifestsMissingHostPath(t *testing.T) {
	plan := testPlan(t)
	plan.Services[1].Volumes[1].HostPath = filepath.Join(t.TempDir(), "gone.json")
	_, err := NewTransformer(plan).KubernetesManifests()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestKubernetesManifestsSanitizesLabels(t *testing.T) {
	plan := testPlan(t)
	plan.Project = "My_Agent!"
	manifests, err := NewTransformer(plan).KubernetesManifests()
	require.NoError(t, err)

	var ns corev1.Namespace
	require.NoError(t, yaml.Unmarshal(manifests[0].Content, &ns))
	assert.Equal(t, "my-agent", ns.Name)
	assert.Equal(t, "my-agent", ns.Labels["agentstack.io/project"])

	var backend appsv1.Deployment
	require.NoError(t, yaml.Unmarshal(manifests[5].Content, &backend))
	assert.Equal(t, "my-agent", backend.Spec.Selector.MatchLabels["agentstack.io/project"])
	assert.Equal(t, backend.Spec.Selector.MatchLabels, backend.Spec.Template.Labels)
}

func TestGenerateManifests(t *testing.T) {
	ws, err := workspace.New(filepath.Join(t.TempDir(), workspace.DirName))
	require.NoError(t, err)
	require.NoError(t, ws.WriteManifest("stale.yaml", []byte("kind: ConfigMap\n")))
	require.NoError(t, NewTransformer(testPlan(t)).GenerateManifests(ws))
	assert.NoFileExists(t, filepath.Join(ws.ManifestDir, "stale.yaml"))

	data, err := os.ReadFile(filepath.Join(ws.ManifestDir, "all.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(string(data), "---\n"))
	assert.Contains(t, string(data), "kind: Namespace")
}
