package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirDestination writes archive objects as files under a local directory.
type DirDestination struct {
	root string
}

// NewDirDestination creates a directory destination rooted at root.
func NewDirDestination(root string) *DirDestination {
	return &DirDestination{root: root}
}

// Write stores data at root/key, creating parent directories. The file is
// written under a temporary name and renamed into place.
func (d *DirDestination) Write(_ context.Context, key string, data []byte) error {
	dst := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
