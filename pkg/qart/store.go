// Package qart stores the files a CatMAP run leaves behind (stdout capture,
// data file, stderr) so they outlive the local run directory.
package qart

import (
	"context"
	"io"
	"path"
	"time"
)

// Artifact describes one stored file.
type Artifact struct {
	Key          string            `json:"key"`
	Bucket       string            `json:"bucket"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	URL          string            `json:"url,omitempty"` // presigned, when requested
}

// Filename returns the last element of the key.
func (a *Artifact) Filename() string {
	return path.Base(a.Key)
}

// Store is an object store keyed by RunArtifactKey.
type Store interface {
	Upload(ctx context.Context, key string, reader io.Reader, contentType string, metadata map[string]string) (*Artifact, error)

	// Download returns ErrNotFound for unknown keys.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// List returns every artifact whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]*Artifact, error)

	// DeletePrefix removes every artifact of a run.
	DeletePrefix(ctx context.Context, prefix string) error

	EnsureBucket(ctx context.Context) error
}

const keyRoot = "catmap/runs/"

// RunArtifactPrefix returns the key prefix shared by a run's artifacts.
func RunArtifactPrefix(runID string) string {
	return keyRoot + runID + "/"
}

// RunArtifactKey returns the key of filename within a run.
func RunArtifactKey(runID, filename string) string {
	return RunArtifactPrefix(runID) + filename
}
