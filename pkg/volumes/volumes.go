package volumes

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kappal-app/agentstack/pkg/env"
)

var ErrVolumeResolution = errors.New("volume resolution failed")

// ResolutionError names the mount that could not be resolved and why.
type ResolutionError struct {
	HostPath      string
	ContainerPath string
	Err           error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s: %v", ErrVolumeResolution, e.HostPath, e.ContainerPath, e.Err)
}

func (e *ResolutionError) Unwrap() []error { return []error{ErrVolumeResolution, e.Err} }

// Kind is what the host side of a mount is expected to be.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// Outcome tags how a host path was obtained.
type Outcome int

const (
	// Found: the requested host path existed and is used unchanged.
	Found Outcome = iota
	// FallbackUsed: the requested file was absent and the placeholder was mounted.
	FallbackUsed
	// Created: the requested directory was absent and has been created empty.
	Created
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case FallbackUsed:
		return "fallback"
	case Created:
		return "created"
	default:
		return "unknown"
	}
}

// MarshalText lets outcomes render as words in JSON and YAML output.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{Found, FallbackUsed, Created} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown volume outcome %q", text)
}

// Binding declares a host -> container mount whose host path may be
// parameterized, e.g. "${GOOGLE_APPLICATION_CREDENTIALS}" or "~/.ii_agent".
type Binding struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
	Kind          Kind
	// Fallback is mounted instead of a missing file. Empty makes the file
	// mandatory.
	Fallback string
	// EnsureDir creates a missing directory instead of failing. Existing
	// directories are left untouched.
	EnsureDir bool
}

// Resolution is a concrete mount whose host path exists.
type Resolution struct {
	Outcome       Outcome `json:"outcome" yaml:"outcome"`
	HostPath      string  `json:"host_path" yaml:"host_path"`
	ContainerPath string  `json:"container_path" yaml:"container_path"`
	ReadOnly      bool    `json:"read_only" yaml:"read_only"`
	// Requested is the interpolated host path before any fallback; empty when
	// the template resolved to nothing.
	Requested string `json:"requested,omitempty" yaml:"requested,omitempty"`
}

// Resolve turns a binding into an existing host path. A missing optional file
// never fails resolution; only failing to create the placeholder does.
func Resolve(b Binding, snap env.Snapshot, baseDir string) (Resolution, error) {
	res := Resolution{ContainerPath: b.ContainerPath, ReadOnly: b.ReadOnly}

	requested, err := snap.Interpolate(b.HostPath)
	if err != nil {
		return res, &ResolutionError{HostPath: b.HostPath, ContainerPath: b.ContainerPath, Err: err}
	}
	requested = strings.TrimSpace(requested)
	if requested != "" {
		requested, err = absPath(requested, snap, baseDir)
		if err != nil {
			return res, &ResolutionError{HostPath: b.HostPath, ContainerPath: b.ContainerPath, Err: err}
		}
	}
	res.Requested = requested

	if requested != "" {
		info, err := os.Stat(requested)
		switch {
		case err == nil:
			if err := checkKind(b.Kind, info); err != nil {
				return res, &ResolutionError{HostPath: requested, ContainerPath: b.ContainerPath, Err: err}
			}
			res.Outcome = Found
			res.HostPath = requested
			return res, nil
		case !errors.Is(err, fs.ErrNotExist):
			return res, &ResolutionError{HostPath: requested, ContainerPath: b.ContainerPath, Err: err}
		}
	}

	if b.Kind == KindDir && b.EnsureDir && requested != "" {
		if err := os.MkdirAll(requested, 0755); err != nil {
			return res, &ResolutionError{HostPath: requested, ContainerPath: b.ContainerPath, Err: err}
		}
		res.Outcome = Created
		res.HostPath = requested
		return res, nil
	}

	if b.Fallback == "" {
		missing := requested
		if missing == "" {
			missing = b.HostPath
		}
		return res, &ResolutionError{HostPath: missing, ContainerPath: b.ContainerPath, Err: fs.ErrNotExist}
	}

	fallback, err := absPath(b.Fallback, snap, baseDir)
	if err != nil {
		return res, &ResolutionError{HostPath: b.Fallback, ContainerPath: b.ContainerPath, Err: err}
	}
	if err := EnsurePlaceholder(fallback); err != nil {
		return res, &ResolutionError{HostPath: fallback, ContainerPath: b.ContainerPath, Err: err}
	}
	res.Outcome = FallbackUsed
	res.HostPath = fallback
	return res, nil
}

func checkKind(kind Kind, info fs.FileInfo) error {
	switch kind {
	case KindFile:
		if info.IsDir() {
			return errors.New("expected a file, found a directory")
		}
	case KindDir:
		if !info.IsDir() {
			return errors.New("expected a directory, found a file")
		}
	}
	return nil
}

// absPath expands a leading ~ from the snapshot's HOME and anchors relative
// paths at baseDir.
func absPath(p string, snap env.Snapshot, baseDir string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, ok := snap.Get("HOME")
		if !ok {
			return "", fmt.Errorf("cannot expand %s: HOME is not set", p)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(baseDir, p)
	}
	return filepath.Clean(p), nil
}
