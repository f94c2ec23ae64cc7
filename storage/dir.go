// Package storage holds the engine user-data directory and the file
// persistence used for paint output.
package storage

import (
	"fmt"
	"os"
)

// Dir manages the engine user data directory.
type Dir struct {
	Dir       string // path to the directory
	RemoveDir bool   // whether to remove the directory on cleanup
}

// Make creates a new temporary directory in tmpDir, and stores the path to
// the directory in the Dir field. If dir is a non-empty string the directory
// is used as is and is not removed on cleanup.
func (d *Dir) Make(tmpDir string, dir any) error {
	if dir, ok := dir.(string); ok && dir != "" {
		d.Dir = dir
		return nil
	}

	var err error
	if d.Dir, err = os.MkdirTemp(tmpDir, "testrender-browser-data-*"); err != nil { //nolint:forbidigo
		return fmt.Errorf("%w", err)
	}
	d.RemoveDir = true

	return nil
}

// Cleanup removes the temporary directory if it was created by Make.
func (d *Dir) Cleanup() error {
	if !d.RemoveDir {
		return nil
	}
	if err := os.RemoveAll(d.Dir); err != nil { //nolint:forbidigo
		return fmt.Errorf("removing %q: %w", d.Dir, err)
	}

	return nil
}
