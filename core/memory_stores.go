package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryBlobStore keeps blobs in process. Used by previews and tests.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: map[string][]byte{}}
}

func (s *MemoryBlobStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("core: blob key is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *MemoryBlobStore) Save(_ context.Context, key string, data []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("core: blob key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blobs == nil {
		s.blobs = map[string][]byte{}
	}
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

type MemoryDispatchLedger struct {
	mu      sync.Mutex
	sent    map[string]struct{}
	records []DispatchRecord
}

func NewMemoryDispatchLedger() *MemoryDispatchLedger {
	return &MemoryDispatchLedger{sent: map[string]struct{}{}}
}

func (l *MemoryDispatchLedger) Seen(_ context.Context, idempotencyKey string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sent[strings.TrimSpace(idempotencyKey)]
	return ok, nil
}

func (l *MemoryDispatchLedger) Record(_ context.Context, record DispatchRecord) error {
	key := strings.TrimSpace(record.IdempotencyKey)
	if key == "" {
		return fmt.Errorf("core: idempotency key is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sent == nil {
		l.sent = map[string]struct{}{}
	}
	l.records = append(l.records, record)
	if record.Status == DispatchStatusSent {
		l.sent[key] = struct{}{}
	}
	return nil
}

func (l *MemoryDispatchLedger) Records() []DispatchRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]DispatchRecord(nil), l.records...)
}
