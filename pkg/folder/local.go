package folder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Local is a folder backed by a directory on disk. It is both a Sandbox and
// a Retrieved.
type Local struct {
	root string
}

// NewLocal returns a folder rooted at dir. The directory is created lazily.
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

// Root returns the directory backing the folder.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) resolve(name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// Create implements Sandbox.
func (l *Local) Create(_ context.Context, name string) (io.WriteCloser, error) {
	p, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	return os.Create(p)
}

// Open implements Retrieved.
func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return f, err
}

// ListObjectNames implements Retrieved. Only the top level is listed.
func (l *Local) ListObjectNames(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

var (
	_ Sandbox   = (*Local)(nil)
	_ Retrieved = (*Local)(nil)
)
