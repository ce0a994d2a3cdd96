package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/compose-spec/compose-go/v2/dotenv"
	"github.com/compose-spec/compose-go/v2/template"
)

// Snapshot is an immutable copy of the external environment taken once per
// composition run. Nothing downstream reads the live process environment.
type Snapshot struct {
	values map[string]string
}

// FromMap builds a snapshot from an explicit mapping. The map is copied.
func FromMap(m map[string]string) Snapshot {
	values := make(map[string]string, len(m))
	for k, v := range m {
		values[k] = v
	}
	return Snapshot{values: values}
}

// Capture reads the process environment and overlays it on the given .env
// files. Variables already present in the process environment win over the
// files, matching Compose. Missing env files are skipped.
func Capture(envFiles ...string) (Snapshot, error) {
	values := make(map[string]string)

	var existing []string
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		info, err := os.Stat(f)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Snapshot{}, fmt.Errorf("failed to stat env file %s: %w", f, err)
		}
		if info.IsDir() {
			return Snapshot{}, fmt.Errorf("env file %s is a directory", f)
		}
		existing = append(existing, f)
	}
	if len(existing) > 0 {
		fileValues, err := dotenv.Read(existing...)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to read env files %s: %w", strings.Join(existing, ", "), err)
		}
		for k, v := range fileValues {
			values[k] = v
		}
	}

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		values[k] = v
	}

	return Snapshot{values: values}, nil
}

// Lookup returns the raw value and whether the variable is set at all.
func (s Snapshot) Lookup(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Get returns the value only when it is set and non-empty.
func (s Snapshot) Get(key string) (string, bool) {
	v, ok := s.values[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// With returns a new snapshot with the overrides applied on top.
func (s Snapshot) With(overrides map[string]string) Snapshot {
	values := make(map[string]string, len(s.values)+len(overrides))
	for k, v := range s.values {
		values[k] = v
	}
	for k, v := range overrides {
		values[k] = v
	}
	return Snapshot{values: values}
}

// Mapping adapts the snapshot to compose-go's interpolation lookup.
func (s Snapshot) Mapping() template.Mapping {
	return func(key string) (string, bool) {
		return s.Lookup(key)
	}
}

// Interpolate substitutes ${VAR}, ${VAR:-default} and friends in tmpl using the
// snapshot's values.
func (s Snapshot) Interpolate(tmpl string) (string, error) {
	return template.Substitute(tmpl, s.Mapping())
}
