package qart

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("catmap")

	for _, name := range []string{"aiida.out", "aiida.pickle"} {
		if _, err := store.Upload(ctx, RunArtifactKey("r1", name), strings.NewReader(name), "text/plain", nil); err != nil {
			t.Fatalf("Upload(%s) failed: %v", name, err)
		}
	}
	if _, err := store.Upload(ctx, RunArtifactKey("r2", "aiida.out"), strings.NewReader("other"), "text/plain", nil); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	list, err := store.List(ctx, RunArtifactPrefix("r1"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].Filename() != "aiida.out" || list[1].Filename() != "aiida.pickle" {
		t.Fatalf("unexpected listing: %+v", list)
	}

	rc, err := store.Download(ctx, RunArtifactKey("r1", "aiida.out"))
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "aiida.out" {
		t.Errorf("Download = %q", data)
	}

	url, err := store.GetPresignedURL(ctx, RunArtifactKey("r1", "aiida.out"), 0)
	if err != nil || url != "memory://catmap/catmap/runs/r1/aiida.out" {
		t.Errorf("GetPresignedURL = %q, %v", url, err)
	}

	if err := store.DeletePrefix(ctx, RunArtifactPrefix("r1")); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if _, err := store.Download(ctx, RunArtifactKey("r1", "aiida.out")); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if list, _ := store.List(ctx, RunArtifactPrefix("r2")); len(list) != 1 {
		t.Errorf("other run should be untouched, got %d artifacts", len(list))
	}
}
