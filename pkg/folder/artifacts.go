package folder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/quatton/catmap-adapter/pkg/qart"
)

// Artifacts exposes the uploaded outputs of a run as a Retrieved folder.
type Artifacts struct {
	store qart.Store
	runID string
}

// NewArtifacts returns the retrieved folder of runID in store.
func NewArtifacts(store qart.Store, runID string) *Artifacts {
	return &Artifacts{store: store, runID: runID}
}

// ListObjectNames implements Retrieved.
func (a *Artifacts) ListObjectNames(ctx context.Context) ([]string, error) {
	prefix := qart.RunArtifactPrefix(a.runID)
	objects, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, prefix)
		if name == "" || strings.Contains(name, "/") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Open implements Retrieved.
func (a *Artifacts) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	clean, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	rc, err := a.store.Download(ctx, qart.RunArtifactKey(a.runID, clean))
	if errors.Is(err, qart.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return rc, err
}

var _ Retrieved = (*Artifacts)(nil)
