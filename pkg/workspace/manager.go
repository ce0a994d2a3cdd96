package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kappal-app/agentstack/pkg/stack"
)

// DirName is the per-project state directory, relative to the project dir.
const DirName = ".agentstack"

const (
	placeholderFile = "dummy-credentials.json"
	planFile        = "plan.json"
)

// Workspace manages the .agentstack directory structure
type Workspace struct {
	Root        string
	RuntimeDir  string
	ManifestDir string
}

func layout(root string) *Workspace {
	return &Workspace{
		Root:        root,
		RuntimeDir:  filepath.Join(root, "runtime"),
		ManifestDir: filepath.Join(root, "manifests"),
	}
}

// New creates (or reuses) a workspace at the given path
func New(root string) (*Workspace, error) {
	ws := layout(root)

	for _, dir := range []string{ws.RuntimeDir, ws.ManifestDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	gitignore := `# agentstack runtime data
runtime/
*.log
`
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte(gitignore), 0644); err != nil {
		return nil, fmt.Errorf("failed to write .gitignore: %w", err)
	}

	return ws, nil
}

// ErrNotFound is returned by Open when the project has no workspace yet.
var ErrNotFound = errors.New("workspace not found")

// Open opens an existing workspace without creating or rewriting anything.
func Open(root string) (*Workspace, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w at %s", ErrNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", root)
	}
	return layout(root), nil
}

// PlaceholderPath is where the credentials placeholder is created when the
// real file is missing.
func (w *Workspace) PlaceholderPath() string {
	return filepath.Join(w.RuntimeDir, placeholderFile)
}

// WritePlan records the last launched plan so later commands can show it
// without resolving the environment again. Environment values are not
// recorded: they carry pass-through credentials.
func (w *Workspace) WritePlan(plan *stack.Plan) error {
	recorded := *plan
	recorded.Services = make([]stack.ServiceDescriptor, len(plan.Services))
	for i, svc := range plan.Services {
		svc.Environment = nil
		recorded.Services[i] = svc
	}

	data, err := json.MarshalIndent(&recorded, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.MkdirAll(w.RuntimeDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.RuntimeDir, err)
	}
	return os.WriteFile(filepath.Join(w.RuntimeDir, planFile), data, 0600)
}

// ReadPlan loads the plan written by WritePlan. It returns nil, nil when no
// plan was recorded.
func (w *Workspace) ReadPlan() (*stack.Plan, error) {
	data, err := os.ReadFile(filepath.Join(w.RuntimeDir, planFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	var plan stack.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return &plan, nil
}

// WriteManifest writes an exported manifest to the manifest directory.
// Exports embed resolved secrets, so the file is private to the user.
func (w *Workspace) WriteManifest(name string, content []byte) error {
	if err := os.MkdirAll(w.ManifestDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.ManifestDir, err)
	}
	return os.WriteFile(filepath.Join(w.ManifestDir, name), content, 0600)
}

// CleanRuntime removes the runtime directory, including the placeholder and
// the recorded plan.
func (w *Workspace) CleanRuntime() error {
	return os.RemoveAll(w.RuntimeDir)
}

// CleanManifests removes all previously exported manifests.
func (w *Workspace) CleanManifests() error {
	return os.RemoveAll(w.ManifestDir)
}
