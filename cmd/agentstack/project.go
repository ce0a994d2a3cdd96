package main

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kappal-app/agentstack/pkg/env"
	"github.com/kappal-app/agentstack/pkg/settings"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/workspace"
)

var nonDNSChars = regexp.MustCompile(`[^a-z0-9-]`)

// sanitizeDNS1123Label lowercases the input, replaces characters outside
// [a-z0-9-] with "-", and trims leading/trailing hyphens.
func sanitizeDNS1123Label(s string) string {
	s = strings.ToLower(s)
	s = nonDNSChars.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	return s
}

// dirHash returns the first 8 hex characters of the SHA-256 of absDir.
func dirHash(absDir string) string {
	h := sha256.Sum256([]byte(absDir))
	return fmt.Sprintf("%x", h[:4])
}

// buildProjectName computes "<sanitised-base>-<8-char-hash>" from the project
// directory. Symlinks are resolved so the same physical directory always maps
// to the same project.
//
// When AGENTSTACK_HOST_DIR is set (agentstack itself running in a container),
// it is mixed into the hash so different host checkouts mounted at the same
// container path stay distinct.
func buildProjectName(dir string) string {
	absDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		absDir, err = filepath.Abs(dir)
		if err != nil {
			absDir = dir
		}
	}

	base := sanitizeDNS1123Label(filepath.Base(absDir))
	if len(base) > 54 {
		base = base[:54]
	}
	if base == "" {
		base = "default"
	}

	if hostDir := os.Getenv("AGENTSTACK_HOST_DIR"); hostDir != "" {
		return base + "-" + dirHash(hostDir+":"+absDir)
	}
	return base + "-" + dirHash(absDir)
}

// resolveProjectName returns the -p value unchanged when given, otherwise
// the name derived from dir.
func resolveProjectName(userProjectName string, dir string) string {
	if userProjectName != "" {
		return userProjectName
	}
	return buildProjectName(dir)
}

// project is everything a command needs to know about the invocation's
// project before touching Docker.
type project struct {
	Dir       string
	Name      string
	Settings  settings.Settings
	Workspace *workspace.Workspace
}

// loadProject resolves the project directory, name, settings and the
// .agentstack workspace. With create the workspace is created when missing;
// without it an existing workspace is opened untouched and Workspace is nil
// when there is none.
func loadProject(create bool) (*project, error) {
	dir := projectDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("project directory %s does not exist", dir)
	}

	cfg, err := settings.Load(dir)
	if err != nil {
		return nil, err
	}

	root := filepath.Join(dir, workspace.DirName)
	var ws *workspace.Workspace
	if create {
		ws, err = workspace.New(root)
	} else {
		ws, err = workspace.Open(root)
		if errors.Is(err, workspace.ErrNotFound) {
			ws, err = nil, nil
		}
	}
	if err != nil {
		return nil, err
	}

	return &project{
		Dir:       dir,
		Name:      resolveProjectName(projectName, dir),
		Settings:  cfg,
		Workspace: ws,
	}, nil
}

// envFilePaths returns the env files of the invocation, --env-file taking
// precedence over the settings, anchored at the project directory.
func (p *project) envFilePaths() []string {
	files := envFiles
	if len(files) == 0 {
		files = p.Settings.EnvFiles
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(p.Dir, f)
		}
		paths = append(paths, f)
	}
	return paths
}

// declared returns the fixed topology without resolving the environment,
// enough for service names and images.
func (p *project) declared() []stack.Declaration {
	return stack.Declare(p.Settings.StackOptions(p.Dir, ""))
}

// compose captures the environment once and resolves the full plan from it.
func (p *project) compose() (*stack.Plan, error) {
	snap, err := env.Capture(p.envFilePaths()...)
	if err != nil {
		return nil, err
	}
	decls := stack.Declare(p.Settings.StackOptions(p.Dir, p.Workspace.PlaceholderPath()))
	return stack.Compose(p.Name, decls, snap, p.Dir)
}

// selectServices narrows plan services to names, keeping declaration order.
// An empty names list selects every service.
func selectServices(plan *stack.Plan, names []string) ([]stack.ServiceDescriptor, error) {
	if len(names) == 0 {
		return plan.Services, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := plan.Service(n); !ok {
			return nil, fmt.Errorf("no such service: %s", n)
		}
		wanted[n] = true
	}
	var selected []stack.ServiceDescriptor
	for _, svc := range plan.Services {
		if wanted[svc.Name] {
			selected = append(selected, svc)
		}
	}
	return selected, nil
}
