package extract

import (
	"context"
	"sync"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// MemoryStorage is the map-backed Storage used in tests and
// single-node deployments without an object store.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStorage creates an empty in-memory object store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (s *MemoryStorage) Put(_ context.Context, key string, content []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := make([]byte, len(content))
	copy(c, content)
	s.objects[key] = c
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.objects[key]
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "object %s not found", key)
	}
	c := make([]byte, len(content))
	copy(c, content)
	return c, nil
}

func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}
