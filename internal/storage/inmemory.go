package storage

import (
	"context"
	"sync"
)

// InMemoryUploader keeps blobs in a map for local/dev use and tests.
type InMemoryUploader struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewInMemoryUploader() *InMemoryUploader {
	return &InMemoryUploader{objects: make(map[string][]byte)}
}

func (u *InMemoryUploader) Upload(_ context.Context, data []byte, logicalPath, _ string) (string, error) {
	buf := make([]byte, len(data))
	copy(buf, data)

	u.mu.Lock()
	defer u.mu.Unlock()
	u.objects[logicalPath] = buf
	return "memory://" + logicalPath, nil
}

// Object returns the stored blob for a logical path.
func (u *InMemoryUploader) Object(logicalPath string) ([]byte, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	b, ok := u.objects[logicalPath]
	return b, ok
}

// Count reports how many distinct paths hold objects.
func (u *InMemoryUploader) Count() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.objects)
}
