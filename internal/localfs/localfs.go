// Package localfs opens host directories as hackpadfs file systems.
package localfs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hack-pad/hackpadfs"
	osfs "github.com/hack-pad/hackpadfs/os"
)

// OpenDir creates dir if needed and returns a file system rooted at it.
func OpenDir(dir string) (hackpadfs.FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	root := osfs.NewFS()
	rel := strings.TrimPrefix(filepath.ToSlash(abs), "/")
	if rel == "" {
		return root, nil
	}
	if err := hackpadfs.MkdirAll(root, rel, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}
	sub, err := hackpadfs.Sub(root, rel)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", abs, err)
	}
	return sub, nil
}
