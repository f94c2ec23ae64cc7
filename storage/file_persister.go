package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FilePersister persists the contents of a reader under a path.
type FilePersister interface {
	Persist(ctx context.Context, path string, data io.Reader) (err error)
}

// LocalFilePersister will persist files to the local disk.
type LocalFilePersister struct {
	fs afero.Fs
}

// NewLocalFilePersister returns a persister writing through fs.
// A nil fs writes to the OS file system.
func NewLocalFilePersister(fs afero.Fs) *LocalFilePersister {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LocalFilePersister{fs: fs}
}

// Persist will write the contents of data to the local disk on the specified path.
// An existing file is truncated.
func (l *LocalFilePersister) Persist(_ context.Context, path string, data io.Reader) (err error) {
	fs := l.fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cp := filepath.Clean(path)

	dir := filepath.Dir(cp)
	if err = fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating a local directory %q: %w", dir, err)
	}

	f, err := fs.OpenFile(cp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating a local file %q: %w", cp, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing the local file %q: %w", cp, cerr)
		}
	}()

	bf := bufio.NewWriter(f)

	if _, err := io.Copy(bf, data); err != nil {
		return fmt.Errorf("copying data to file: %w", err)
	}

	if err := bf.Flush(); err != nil {
		return fmt.Errorf("flushing data to disk: %w", err)
	}

	return nil
}
