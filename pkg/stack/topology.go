package stack

import (
	"github.com/kappal-app/agentstack/pkg/env"
	"github.com/kappal-app/agentstack/pkg/volumes"
)

const (
	FrontendName = "frontend"
	BackendName  = "backend"

	FrontendContainerPort = 3000
	BackendContainerPort  = 8000

	// CredentialsContainerPath is where the backend finds its cloud credentials.
	CredentialsContainerPath = "/app/google-application-credentials.json"
	// WorkspaceContainerPath is the backend's persistent state directory.
	WorkspaceContainerPath = "/.ii_agent"

	DefaultWorkspaceDir = "~/.ii_agent"
)

// BuildConfig says how a service image is produced.
type BuildConfig struct {
	Context    string `json:"context" yaml:"context"`
	Dockerfile string `json:"dockerfile,omitempty" yaml:"dockerfile,omitempty"`
	// Image overrides the generated "<project>-<service>:latest" tag.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`
}

// Declaration is an unresolved service: everything still refers to external
// inputs that Compose resolves.
type Declaration struct {
	Name          string
	Build         BuildConfig
	PortEnv       env.Binding
	ContainerPort int
	Env           []env.Binding
	Volumes       []volumes.Binding
	Init          bool
}

// Options are the inputs of the declared topology that are not environment
// variables.
type Options struct {
	// ProjectDir anchors relative build contexts and host paths.
	ProjectDir string
	// PlaceholderPath is the credentials fallback, normally inside the
	// workspace runtime directory.
	PlaceholderPath string
	// WorkspaceDir is the default host side of the backend workspace mount;
	// AGENT_WORKSPACE_DIR overrides it.
	WorkspaceDir string
	Frontend     BuildConfig
	Backend      BuildConfig
}

// Declare returns the frontend/backend topology in launch order.
func Declare(opts Options) []Declaration {
	workspace := opts.WorkspaceDir
	if workspace == "" {
		workspace = DefaultWorkspaceDir
	}
	frontendBuild := withBuildDefaults(opts.Frontend, "docker/frontend/Dockerfile")
	backendBuild := withBuildDefaults(opts.Backend, "docker/backend/Dockerfile")

	frontend := Declaration{
		Name:          FrontendName,
		Build:         frontendBuild,
		PortEnv:       env.WithDefault("FRONTEND_PORT", "FRONTEND_PORT", "3000"),
		ContainerPort: FrontendContainerPort,
		Env: []env.Binding{
			env.Passthrough("GOOGLE_API_KEY"),
			env.Passthrough("GOOGLE_CLIENT_ID"),
			env.Passthrough("GOOGLE_CLIENT_SECRET"),
			env.Fixed("NODE_ENV", "production"),
		},
	}

	backend := Declaration{
		Name:          BackendName,
		Build:         backendBuild,
		PortEnv:       env.WithDefault("BACKEND_PORT", "BACKEND_PORT", "8000"),
		ContainerPort: BackendContainerPort,
		Env: []env.Binding{
			env.Fixed("GOOGLE_APPLICATION_CREDENTIALS", CredentialsContainerPath),
			env.WithDefault("STATIC_FILE_BASE_URL", "STATIC_FILE_BASE_URL", "http://localhost:${BACKEND_PORT}"),
		},
		Volumes: []volumes.Binding{
			{
				HostPath:      "${AGENT_WORKSPACE_DIR:-" + workspace + "}",
				ContainerPath: WorkspaceContainerPath,
				Kind:          volumes.KindDir,
				EnsureDir:     true,
			},
			{
				HostPath:      "${GOOGLE_APPLICATION_CREDENTIALS:-}",
				ContainerPath: CredentialsContainerPath,
				ReadOnly:      true,
				Kind:          volumes.KindFile,
				Fallback:      opts.PlaceholderPath,
			},
		},
		// The backend spawns a browser whose children must be reaped.
		Init: true,
	}

	return []Declaration{frontend, backend}
}

func withBuildDefaults(b BuildConfig, dockerfile string) BuildConfig {
	if b.Context == "" {
		b.Context = "."
	}
	if b.Dockerfile == "" {
		b.Dockerfile = dockerfile
	}
	return b
}

// Names returns the service names of decls in order.
func Names(decls []Declaration) []string {
	names := make([]string, 0, len(decls))
	for _, d := range decls {
		names = append(names, d.Name)
	}
	return names
}
