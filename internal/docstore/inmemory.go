package docstore

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps documents in process memory for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	lists    map[string][][]byte
	counters map[string]*counter
	now      func() time.Time
}

type counter struct {
	value     int64
	expiresAt time.Time
}

func (c *counter) expired(now time.Time) bool {
	return !c.expiresAt.IsZero() && !now.Before(c.expiresAt)
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		lists:    make(map[string][][]byte),
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func (s *InMemoryStore) Append(_ context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[key] = append(s.lists[key], cp)
	return nil
}

func (s *InMemoryStore) Tail(_ context.Context, key string, n int) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.lists[key]
	if len(arr) == 0 {
		return nil, nil
	}
	if n <= 0 || n > len(arr) {
		n = len(arr)
	}
	out := make([][]byte, 0, n)
	for i := len(arr) - n; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lists[key]
	return ok, nil
}

func (s *InMemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, c := range s.counters {
		if c.expired(now) {
			delete(s.counters, k)
		}
	}
	c, ok := s.counters[key]
	if !ok {
		c = &counter{}
		if ttl > 0 {
			c.expiresAt = now.Add(ttl)
		}
		s.counters[key] = c
	}
	c.value++
	return c.value, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, key)
	delete(s.counters, key)
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
