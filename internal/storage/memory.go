package storage

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// memoryStore keeps encoded records so callers never share slices with the store.
type memoryStore struct {
	mu        sync.Mutex
	closed    bool
	sessions  map[Key][]byte
	rotations map[Key][]byte
	scores    map[string]int64
	grants    map[string]time.Time
}

// NewMemory returns a non-durable Store. Useful for tests and single-run deployments.
func NewMemory() Store {
	return &memoryStore{
		sessions:  map[Key][]byte{},
		rotations: map[Key][]byte{},
		scores:    map[string]int64{},
		grants:    map[string]time.Time{},
	}
}

func (s *memoryStore) SaveSession(ctx context.Context, k Key, rec SessionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.put(s.sessions, k, b)
}

func (s *memoryStore) LoadSession(ctx context.Context, k Key) (SessionRecord, bool, error) {
	b, ok, err := s.get(s.sessions, k)
	if err != nil || !ok {
		return SessionRecord{}, false, err
	}
	rec, ok := decodeSession(b)
	return rec, ok, nil
}

func (s *memoryStore) DeleteSession(ctx context.Context, k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.sessions, k)
	return nil
}

func (s *memoryStore) SaveRotation(ctx context.Context, k Key, rec RotationRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.put(s.rotations, k, b)
}

func (s *memoryStore) LoadRotation(ctx context.Context, k Key) (RotationRecord, bool, error) {
	b, ok, err := s.get(s.rotations, k)
	if err != nil || !ok {
		return RotationRecord{}, false, err
	}
	rec, ok := decodeRotation(b)
	return rec, ok, nil
}

func (s *memoryStore) IncrementScore(ctx context.Context, scope string, userID int64, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	k := scoreKey(scope, userID)
	s.scores[k] += delta
	return s.scores[k], nil
}

func (s *memoryStore) Score(ctx context.Context, scope string, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.scores[scoreKey(scope, userID)], nil
}

func (s *memoryStore) HasGrant(ctx context.Context, scope string, userID int64, grantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.grants[grantKey(scope, userID, grantID)]
	return ok, nil
}

func (s *memoryStore) PutGrant(ctx context.Context, scope string, userID int64, grantID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.grants[grantKey(scope, userID, grantID)] = at
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) put(m map[Key][]byte, k Key, b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m[k] = b
	return nil
}

func (s *memoryStore) get(m map[Key][]byte, k Key) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	b, ok := m[k]
	return b, ok, nil
}
