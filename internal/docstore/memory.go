package docstore

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store. Subscribers are called synchronously
// from Subscribe and Write.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string][]byte
	subs   map[string]map[int]func([]byte)
	nextID int
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string][]byte),
		subs: make(map[string]map[int]func([]byte)),
	}
}

func (s *MemoryStore) Subscribe(_ context.Context, path string, onSnapshot func([]byte), _ func(error)) (func(), error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[path] == nil {
		s.subs[path] = make(map[int]func([]byte))
	}
	s.subs[path][id] = onSnapshot
	doc := slices.Clone(s.docs[path])
	s.mu.Unlock()

	onSnapshot(doc)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[path], id)
			if len(s.subs[path]) == 0 {
				delete(s.subs, path)
			}
		})
	}, nil
}

func (s *MemoryStore) Write(_ context.Context, path string, doc []byte) error {
	s.mu.Lock()
	s.docs[path] = slices.Clone(doc)
	listeners := make([]func([]byte), 0, len(s.subs[path]))
	for _, fn := range s.subs[path] {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(slices.Clone(doc))
	}
	return nil
}

// Get returns a copy of the stored document, or nil.
func (s *MemoryStore) Get(path string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.docs[path])
}

// Subscribers returns the number of live subscriptions on path.
func (s *MemoryStore) Subscribers(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[path])
}
