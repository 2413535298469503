package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory ObjectStore used by tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	body         []byte
	contentType  string
	lastModified time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// Get returns the full object body, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(obj.body))
	copy(out, obj.body)
	return out, nil
}

// Put writes the full object body.
func (m *MemoryStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(body))
	copy(stored, body)
	m.objects[key] = memoryObject{
		body:         stored,
		contentType:  contentType,
		lastModified: time.Now().UTC(),
	}
	return nil
}

// PutAt writes an object with an explicit modification time, for tests that
// depend on listing order.
func (m *MemoryStore) PutAt(key string, body []byte, contentType string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(body))
	copy(stored, body)
	m.objects[key] = memoryObject{body: stored, contentType: contentType, lastModified: at}
}

// List returns objects under the given prefix, oldest first.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{
				Key:          key,
				Size:         int64(len(obj.body)),
				LastModified: obj.lastModified,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastModified.Before(out[j].LastModified) })
	return out, nil
}

// Delete removes an object (test helper).
func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}
