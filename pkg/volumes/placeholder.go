package volumes

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PlaceholderContent is written to a missing credentials file. Consumers must
// accept an empty JSON object.
const PlaceholderContent = "{}\n"

// EnsurePlaceholder makes sure path exists as a regular file, creating it with
// PlaceholderContent when absent. An existing file is never rewritten.
func EnsurePlaceholder(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return fmt.Errorf("placeholder %s is a directory", path)
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat placeholder %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".placeholder-*")
	if err != nil {
		return fmt.Errorf("failed to create placeholder %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(PlaceholderContent); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write placeholder %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write placeholder %s: %w", path, err)
	}
	// Containers may run as a different uid; the file must stay world-readable.
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to chmod placeholder %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to install placeholder %s: %w", path, err)
	}
	return nil
}
