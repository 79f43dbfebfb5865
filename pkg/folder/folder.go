// Package folder abstracts the two directories a calculation touches: the
// sandbox its inputs are written into and the folder its outputs are
// retrieved from.
package folder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	// ErrNotExist is returned when a named object is not in the folder.
	ErrNotExist = errors.New("object does not exist")
	// ErrInvalidName is returned for names that would leave the folder.
	ErrInvalidName = errors.New("invalid object name")
)

// Sandbox is a writable folder.
type Sandbox interface {
	// Create opens name for writing, truncating an existing object.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
}

// Retrieved is a read-only listing of a calculation's outputs.
type Retrieved interface {
	// ListObjectNames returns the names of the objects in the folder.
	ListObjectNames(ctx context.Context) ([]string, error)
	// Open opens name for reading. A missing object yields ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// CopySpec asks for Source on the local disk to be placed at Target inside
// a sandbox.
type CopySpec struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// CleanName validates a folder-relative name and returns its clean form.
func CleanName(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, '\\') || path.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return clean, nil
}

// WriteFile writes data to name inside sandbox.
func WriteFile(ctx context.Context, sandbox Sandbox, name string, data []byte) (err error) {
	w, err := sandbox.Create(ctx, name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = w.Write(data)
	return err
}

// ReadFile reads the whole of name from retrieved.
func ReadFile(ctx context.Context, retrieved Retrieved, name string) ([]byte, error) {
	r, err := retrieved.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Contains reports whether name is listed in retrieved.
func Contains(ctx context.Context, retrieved Retrieved, name string) (bool, error) {
	names, err := retrieved.ListObjectNames(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}
