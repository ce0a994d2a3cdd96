package main

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/kappal-app/agentstack/pkg/settings"
	"github.com/kappal-app/agentstack/pkg/stack"
	"github.com/kappal-app/agentstack/pkg/workspace"
)

func TestSanitizeDNS1123Label(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"AgentStack", "agentstack"},
		{"ii_agent", "ii-agent"},
		{"ii.agent", "ii-agent"},
		{"--leading--", "leading"},
		{"UPPER_CASE.Dots", "upper-case-dots"},
		{"", ""},
		{"---", ""},
		{"hello world!", "hello-world"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeDNS1123Label(tt.input)
			if got != tt.want {
				t.Errorf("sanitizeDNS1123Label(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDirHash(t *testing.T) {
	h1 := dirHash("/home/user/ii-agent")
	if h2 := dirHash("/home/user/ii-agent"); h1 != h2 {
		t.Errorf("dirHash not deterministic: %q != %q", h1, h2)
	}
	if h3 := dirHash("/home/user/worktrees/ii-agent"); h1 == h3 {
		t.Errorf("dirHash collision for different paths: both %q", h1)
	}
	if len(h1) != 8 {
		t.Errorf("dirHash length = %d, want 8", len(h1))
	}
}

func TestResolveProjectNameExplicit(t *testing.T) {
	got := resolveProjectName("myname", "/any/dir")
	if got != "myname" {
		t.Errorf("resolveProjectName with explicit name = %q, want %q", got, "myname")
	}
}

func TestBuildProjectNameFormat(t *testing.T) {
	got := buildProjectName("/home/user/ii-agent")
	pattern := regexp.MustCompile(`^ii-agent-[0-9a-f]{8}$`)
	if !pattern.MatchString(got) {
		t.Errorf("buildProjectName = %q, does not match <base>-<8hexchars>", got)
	}
}

func TestBuildProjectNameLongBase(t *testing.T) {
	long := "/tmp/abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnopqrstuvwxyz0123456789"
	got := buildProjectName(long)
	if len(got) > 63 {
		t.Errorf("buildProjectName length = %d, want <= 63", len(got))
	}
}

func TestBuildProjectNameEmptyBase(t *testing.T) {
	got := buildProjectName("/___")
	pattern := regexp.MustCompile(`^default-[0-9a-f]{8}$`)
	if !pattern.MatchString(got) {
		t.Errorf("buildProjectName(%q) = %q, want default-<hash>", "/___", got)
	}
}

func TestBuildProjectNameSymlinkResilience(t *testing.T) {
	realDir := t.TempDir()
	symlink := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(realDir, symlink); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}

	if fromReal, fromLink := buildProjectName(realDir), buildProjectName(symlink); fromReal != fromLink {
		t.Errorf("symlink divergence: real=%q symlink=%q", fromReal, fromLink)
	}
}

func TestBuildProjectNameHostDir(t *testing.T) {
	t.Setenv("AGENTSTACK_HOST_DIR", "/host/a")
	a := buildProjectName("/project")
	t.Setenv("AGENTSTACK_HOST_DIR", "/host/b")
	b := buildProjectName("/project")
	if a == b {
		t.Errorf("different host dirs should produce different names; both %q", a)
	}
}

func TestEnvFilePaths(t *testing.T) {
	p := &project{Dir: "/work", Settings: settings.Default()}

	got := p.envFilePaths()
	if len(got) != 1 || got[0] != "/work/.env" {
		t.Errorf("envFilePaths() = %v, want [/work/.env]", got)
	}

	envFiles = []string{"local.env", "/etc/agent.env"}
	defer func() { envFiles = nil }()
	got = p.envFilePaths()
	if len(got) != 2 || got[0] != "/work/local.env" || got[1] != "/etc/agent.env" {
		t.Errorf("envFilePaths() with --env-file = %v", got)
	}
}

func TestSelectServices(t *testing.T) {
	plan := &stack.Plan{Services: []stack.ServiceDescriptor{
		{Name: stack.FrontendName},
		{Name: stack.BackendName},
	}}

	all, err := selectServices(plan, nil)
	if err != nil || len(all) != 2 {
		t.Fatalf("selectServices(nil) = %v, %v", all, err)
	}

	got, err := selectServices(plan, []string{"backend", "frontend"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0].Name != "frontend" || got[1].Name != "backend" {
		t.Errorf("selectServices should keep declaration order, got %s, %s", got[0].Name, got[1].Name)
	}

	if _, err := selectServices(plan, []string{"worker"}); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestLoadProjectWithoutCreate(t *testing.T) {
	dir := t.TempDir()
	projectDir = dir
	defer func() { projectDir = "" }()
	root := filepath.Join(dir, workspace.DirName)

	proj, err := loadProject(false)
	if err != nil {
		t.Fatalf("loadProject(false): %v", err)
	}
	if proj.Workspace != nil {
		t.Errorf("Workspace = %+v, want nil for a project never started", proj.Workspace)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("loadProject(false) must not create %s", root)
	}

	if _, err := loadProject(true); err != nil {
		t.Fatalf("loadProject(true): %v", err)
	}
	if err := os.Remove(filepath.Join(root, ".gitignore")); err != nil {
		t.Fatalf("remove .gitignore: %v", err)
	}

	proj, err = loadProject(false)
	if err != nil {
		t.Fatalf("loadProject(false): %v", err)
	}
	if proj.Workspace == nil || proj.Workspace.Root != root {
		t.Errorf("Workspace = %+v, want the existing one at %s", proj.Workspace, root)
	}
	if _, err := os.Stat(filepath.Join(root, ".gitignore")); !os.IsNotExist(err) {
		t.Error("opening an existing workspace must not rewrite .gitignore")
	}
}

func TestDeclaredNames(t *testing.T) {
	p := &project{Dir: "/work", Settings: settings.Default()}
	names := stack.Names(p.declared())
	if len(names) != 2 || names[0] != stack.FrontendName || names[1] != stack.BackendName {
		t.Errorf("declared names = %v", names)
	}
}
