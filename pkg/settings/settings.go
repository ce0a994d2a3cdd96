package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kappal-app/agentstack/pkg/logging"
	"github.com/kappal-app/agentstack/pkg/stack"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir

const (
	userConfigDir    = ".config/agentstack"
	projectConfigDir = ".agentstack"
	configFileName   = "config.yaml"
)

// ServiceSettings overrides how one service image is built.
type ServiceSettings struct {
	Context    string `yaml:"context,omitempty"`
	Dockerfile string `yaml:"dockerfile,omitempty"`
	Image      string `yaml:"image,omitempty"`
}

// Settings are the persistent, non-secret knobs of a project.
type Settings struct {
	GracePeriod  time.Duration              `yaml:"grace_period,omitempty"`
	WorkspaceDir string                     `yaml:"workspace_dir,omitempty"`
	EnvFiles     []string                   `yaml:"env_files,omitempty"`
	Services     map[string]ServiceSettings `yaml:"services,omitempty"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		GracePeriod:  10 * time.Second,
		WorkspaceDir: stack.DefaultWorkspaceDir,
		EnvFiles:     []string{".env"},
		Services:     map[string]ServiceSettings{},
	}
}

// Load layers the defaults, the user config and the project config, later
// layers overriding earlier ones. Missing files are skipped.
func Load(projectDir string) (Settings, error) {
	settings := Default()

	if home, err := osUserHomeDir(); err != nil {
		logging.Warn("settings", "Could not determine user config path: %v", err)
	} else {
		settings, err = overlayFile(settings, filepath.Join(home, userConfigDir, configFileName))
		if err != nil {
			return Settings{}, err
		}
	}

	return overlayFile(settings, ProjectConfigPath(projectDir))
}

// ProjectConfigPath is the project-level settings file.
func ProjectConfigPath(projectDir string) string {
	return filepath.Join(projectDir, projectConfigDir, configFileName)
}

func overlayFile(base Settings, path string) (Settings, error) {
	overlay, err := loadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return base, nil
		}
		return Settings{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	logging.Debug("settings", "Loaded %s", path)
	return merge(base, overlay), nil
}

func loadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, err
	}
	if s.GracePeriod < 0 {
		return Settings{}, fmt.Errorf("grace_period must not be negative, got %s", s.GracePeriod)
	}
	return s, nil
}

// merge applies the non-empty fields of overlay on top of base. Service
// entries merge field by field.
func merge(base, overlay Settings) Settings {
	merged := base
	if overlay.GracePeriod != 0 {
		merged.GracePeriod = overlay.GracePeriod
	}
	if overlay.WorkspaceDir != "" {
		merged.WorkspaceDir = overlay.WorkspaceDir
	}
	if overlay.EnvFiles != nil {
		merged.EnvFiles = overlay.EnvFiles
	}

	merged.Services = make(map[string]ServiceSettings, len(base.Services)+len(overlay.Services))
	for name, svc := range base.Services {
		merged.Services[name] = svc
	}
	for name, svc := range overlay.Services {
		cur := merged.Services[name]
		if svc.Context != "" {
			cur.Context = svc.Context
		}
		if svc.Dockerfile != "" {
			cur.Dockerfile = svc.Dockerfile
		}
		if svc.Image != "" {
			cur.Image = svc.Image
		}
		merged.Services[name] = cur
	}
	return merged
}

// StackOptions turns the settings into topology options for projectDir.
func (s Settings) StackOptions(projectDir, placeholderPath string) stack.Options {
	build := func(name string) stack.BuildConfig {
		svc := s.Services[name]
		return stack.BuildConfig{Context: svc.Context, Dockerfile: svc.Dockerfile, Image: svc.Image}
	}
	return stack.Options{
		ProjectDir:      projectDir,
		PlaceholderPath: placeholderPath,
		WorkspaceDir:    s.WorkspaceDir,
		Frontend:        build(stack.FrontendName),
		Backend:         build(stack.BackendName),
	}
}
