package folder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Memory is an in-memory folder. The zero value is ready to use.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemory returns a folder holding a copy of files.
func NewMemory(files map[string][]byte) *Memory {
	m := &Memory{files: make(map[string][]byte, len(files))}
	for name, data := range files {
		m.files[name] = append([]byte(nil), data...)
	}
	return m
}

// Bytes returns the content of name.
func (m *Memory) Bytes(name string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	return data, ok
}

// Create implements Sandbox. The content becomes visible on Close.
func (m *Memory) Create(_ context.Context, name string) (io.WriteCloser, error) {
	clean, err := CleanName(name)
	if err != nil {
		return nil, err
	}
	return &memoryWriter{folder: m, name: clean}, nil
}

// Open implements Retrieved.
func (m *Memory) Open(_ context.Context, name string) (io.ReadCloser, error) {
	data, ok := m.Bytes(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ListObjectNames implements Retrieved.
func (m *Memory) ListObjectNames(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

type memoryWriter struct {
	folder *Memory
	name   string
	buf    bytes.Buffer
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	w.folder.mu.Lock()
	defer w.folder.mu.Unlock()
	if w.folder.files == nil {
		w.folder.files = make(map[string][]byte)
	}
	w.folder.files[w.name] = w.buf.Bytes()
	return nil
}

var (
	_ Sandbox   = (*Memory)(nil)
	_ Retrieved = (*Memory)(nil)
)
