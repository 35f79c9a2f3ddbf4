package ratelimit

import (
	"context"
	"sync"
)

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, bucket string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[normalizeBucket(bucket)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	state.Bucket = normalizeBucket(state.Bucket)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = map[string]State{}
	}
	s.items[state.Bucket] = state
	return nil
}

var _ StateStore = (*MemoryStateStore)(nil)
