package state

import (
	"context"
	"sync"
)

// MemoryStore keeps the encoded document in memory. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	saveErr error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailSaves makes every subsequent Save return err; nil restores normal behaviour.
func (s *MemoryStore) FailSaves(err error) {
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
}

// Saves returns the number of successful writes.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Load decodes the held document.
func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.ReadRaw(ctx)
	if err != nil {
		return nil, err
	}
	snap, _, err := Decode(data)
	return snap, err
}

// Save encodes and holds snap.
func (s *MemoryStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	return s.WriteRaw(ctx, data)
}

// ReadRaw returns a copy of the held document.
func (s *MemoryStore) ReadRaw(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	return append([]byte(nil), s.data...), nil
}

// WriteRaw replaces the held document.
func (s *MemoryStore) WriteRaw(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}
