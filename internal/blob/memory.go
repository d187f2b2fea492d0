package blob

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps objects in a map for tests and local runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// PutObject implements outreach.BlobStore.
func (m *Memory) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = append([]byte{}, data...)
	return fmt.Sprintf("mem://%s", path), nil
}

// Get returns a stored object.
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path]
	return data, ok
}
