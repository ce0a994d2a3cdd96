package stack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kappal-app/agentstack/pkg/env"
	"github.com/kappal-app/agentstack/pkg/ports"
	"github.com/kappal-app/agentstack/pkg/volumes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) (Options, string) {
	t.Helper()
	projectDir := t.TempDir()
	return Options{
		ProjectDir:      projectDir,
		PlaceholderPath: filepath.Join(projectDir, ".agentstack", "runtime", "dummy-credentials.json"),
	}, projectDir
}

func TestComposeDefaults(t *testing.T) {
	opts, projectDir := testOptions(t)
	home := t.TempDir()
	snap := env.FromMap(map[string]string{"HOME": home})

	plan, err := Compose("agent", Declare(opts), snap, projectDir)
	require.NoError(t, err)
	require.Len(t, plan.Services, 2)
	assert.Equal(t, "agent-net", plan.Network)

	frontend, ok := plan.Service(FrontendName)
	require.True(t, ok)
	assert.Equal(t, ports.Binding{HostPort: 3000, ContainerPort: 3000, Protocol: "tcp"}, frontend.Port)
	assert.Equal(t, "production", frontend.Environment["NODE_ENV"])
	assert.Equal(t, "", frontend.Environment["GOOGLE_API_KEY"])
	assert.False(t, frontend.Init)
	assert.Equal(t, "agent-frontend:latest", frontend.Image)
	assert.Equal(t, projectDir, frontend.Build.Context)

	backend, ok := plan.Service(BackendName)
	require.True(t, ok)
	assert.Equal(t, ports.Binding{HostPort: 8000, ContainerPort: 8000, Protocol: "tcp"}, backend.Port)
	assert.Equal(t, "http://localhost:8000", backend.Environment["STATIC_FILE_BASE_URL"])
	assert.Equal(t, CredentialsContainerPath, backend.Environment["GOOGLE_APPLICATION_CREDENTIALS"])
	assert.True(t, backend.Init)

	require.Len(t, backend.Volumes, 2)
	workspace := backend.Volumes[0]
	assert.Equal(t, WorkspaceContainerPath, workspace.ContainerPath)
	assert.Equal(t, filepath.Join(home, ".ii_agent"), workspace.HostPath)
	assert.DirExists(t, workspace.HostPath)

	creds := backend.Volumes[1]
	assert.Equal(t, volumes.FallbackUsed, creds.Outcome)
	assert.Equal(t, opts.PlaceholderPath, creds.HostPath)
	assert.Equal(t, CredentialsContainerPath, creds.ContainerPath)
	assert.True(t, creds.ReadOnly)
	assert.FileExists(t, opts.PlaceholderPath)
}

func TestComposeOverrides(t *testing.T) {
	opts, projectDir := testOptions(t)
	creds := filepath.Join(projectDir, "sa.json")
	require.NoError(t, os.WriteFile(creds, []byte(`{"type":"service_account"}`), 0600))
	workspace := filepath.Join(projectDir, "ws")

	snap := env.FromMap(map[string]string{
		"FRONTEND_PORT":                  "4000",
		"BACKEND_PORT":                   "9000",
		"GOOGLE_API_KEY":                 "key",
		"GOOGLE_APPLICATION_CREDENTIALS": creds,
		"AGENT_WORKSPACE_DIR":            workspace,
	})

	plan, err := Compose("agent", Declare(opts), snap, projectDir)
	require.NoError(t, err)

	frontend, _ := plan.Service(FrontendName)
	assert.Equal(t, 4000, frontend.Port.HostPort)
	assert.Equal(t, FrontendContainerPort, frontend.Port.ContainerPort)
	assert.Equal(t, "key", frontend.Environment["GOOGLE_API_KEY"])

	backend, _ := plan.Service(BackendName)
	assert.Equal(t, 9000, backend.Port.HostPort)
	assert.Equal(t, BackendContainerPort, backend.Port.ContainerPort)
	assert.Equal(t, "http://localhost:9000", backend.Environment["STATIC_FILE_BASE_URL"])
	assert.Equal(t, workspace, backend.Volumes[0].HostPath)
	assert.Equal(t, volumes.Found, backend.Volumes[1].Outcome)
	assert.Equal(t, creds, backend.Volumes[1].HostPath)
	assert.NoFileExists(t, opts.PlaceholderPath)
}

func TestComposeExplicitStaticFileBaseURL(t *testing.T) {
	opts, projectDir := testOptions(t)
	snap := env.FromMap(map[string]string{
		"HOME":                 t.TempDir(),
		"STATIC_FILE_BASE_URL": "https://files.example.com",
	})

	plan, err := Compose("agent", Declare(opts), snap, projectDir)
	require.NoError(t, err)
	backend, _ := plan.Service(BackendName)
	assert.Equal(t, "https://files.example.com", backend.Environment["STATIC_FILE_BASE_URL"])
}

func TestComposeInvalidPortAbortsPlan(t *testing.T) {
	opts, projectDir := testOptions(t)
	snap := env.FromMap(map[string]string{"HOME": t.TempDir(), "BACKEND_PORT": "999999"})

	plan, err := Compose("agent", Declare(opts), snap, projectDir)
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ports.ErrInvalidPort)
	assert.Contains(t, err.Error(), "BACKEND_PORT")
}

func TestComposeHostPortConflict(t *testing.T) {
	opts, projectDir := testOptions(t)
	snap := env.FromMap(map[string]string{
		"HOME":          t.TempDir(),
		"FRONTEND_PORT": "8000",
	})

	_, err := Compose("agent", Declare(opts), snap, projectDir)
	assert.ErrorIs(t, err, ports.ErrInvalidPort)
}

func TestComposeRejectsDuplicateServices(t *testing.T) {
	opts, projectDir := testOptions(t)
	decls := Declare(opts)
	decls = append(decls, decls[0])

	_, err := Compose("agent", decls, env.FromMap(nil), projectDir)
	assert.Error(t, err)
}

func TestComposeRequiresProject(t *testing.T) {
	opts, projectDir := testOptions(t)
	_, err := Compose("", Declare(opts), env.FromMap(nil), projectDir)
	assert.Error(t, err)
}

func TestDeclareBuildOverrides(t *testing.T) {
	decls := Declare(Options{
		Backend: BuildConfig{Context: "backend", Image: "registry.local/agent:dev"},
	})
	require.Len(t, decls, 2)
	assert.Equal(t, ".", decls[0].Build.Context)
	assert.Equal(t, "docker/frontend/Dockerfile", decls[0].Build.Dockerfile)
	assert.Equal(t, "backend", decls[1].Build.Context)
	assert.Equal(t, "docker/backend/Dockerfile", decls[1].Build.Dockerfile)
	assert.Equal(t, "registry.local/agent:dev", decls[1].Build.Image)
}

func TestEnvListSorted(t *testing.T) {
	d := ServiceDescriptor{Environment: map[string]string{"B": "2", "A": "1", "C": ""}}
	assert.Equal(t, []string{"A=1", "B=2", "C="}, d.EnvList())
}
