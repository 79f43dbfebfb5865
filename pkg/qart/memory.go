package qart

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps artifacts in process memory. It backs local runs when
// no S3 endpoint is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

type memoryObject struct {
	data []byte
	meta Artifact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) EnsureBucket(context.Context) error { return nil }

func (s *MemoryStore) Upload(_ context.Context, key string, reader io.Reader, contentType string, metadata map[string]string) (*Artifact, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	a := Artifact{
		Key:          key,
		Bucket:       s.bucket,
		Size:         int64(len(data)),
		ContentType:  contentType,
		LastModified: time.Now(),
		Metadata:     metadata,
	}
	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, meta: a}
	s.mu.Unlock()
	return &a, nil
}

func (s *MemoryStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// GetPresignedURL returns a memory:// URL; it is only meaningful in-process.
func (s *MemoryStore) GetPresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return "memory://" + s.bucket + "/" + key, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Artifact
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			a := obj.meta
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
