package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store keeps fixed-window counters. Entries vanish once their reset time
// passes.
type Store interface {
	Get(ctx context.Context, key string) (count int, resetTime time.Time, exists bool, err error)
	Set(ctx context.Context, key string, count int, resetTime time.Time) error
	// Increment counts a hit and reports the window it landed in. resetTime
	// only applies when the hit opens a new window.
	Increment(ctx context.Context, key string, resetTime time.Time) (count int, windowReset time.Time, err error)
	Reset(ctx context.Context, key string) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*entry
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

type entry struct {
	count     int
	resetTime time.Time
}

func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		data: make(map[string]*entry),
		now:  time.Now,
		stop: make(chan struct{}),
	}

	go store.cleanup(time.Minute)

	return store
}

func (s *MemoryStore) Get(_ context.Context, key string) (int, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.data[key]; ok && s.now().Before(e.resetTime) {
		return e.count, e.resetTime, true, nil
	}
	return 0, time.Time{}, false, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, count int, resetTime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &entry{count: count, resetTime: resetTime}
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, resetTime time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.data[key]; ok && s.now().Before(e.resetTime) {
		e.count++
		return e.count, e.resetTime, nil
	}

	s.data[key] = &entry{count: 1, resetTime: resetTime}
	return 1, resetTime, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.data {
		if !now.Before(e.resetTime) {
			delete(s.data, key)
		}
	}
}

func (s *MemoryStore) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}
