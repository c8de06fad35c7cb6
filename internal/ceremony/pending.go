// ABOUTME: Single-use pending ceremony state with TTL expiry
// ABOUTME: Keyed by user id; a second start for the same user overwrites

package ceremony

import (
	"context"
	"sync"
	"time"
)

// pendingEntry wraps stored state with its expiry deadline.
type pendingEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// PendingStore holds in-flight ceremony state between start and finish.
// Entries are secrets-adjacent: they carry server-chosen challenges, are
// consumed exactly once by Take, and expire even when never consumed.
type PendingStore[T any] struct {
	mu      sync.Mutex
	entries map[string]pendingEntry[T]
	ttl     time.Duration
	cancel  context.CancelFunc
}

// NewPendingStore creates a store whose entries live for ttl. A background
// sweep evicts abandoned entries; Take also checks expiry lazily.
func NewPendingStore[T any](ttl time.Duration) *PendingStore[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &PendingStore[T]{
		entries: make(map[string]pendingEntry[T]),
		ttl:     ttl,
		cancel:  cancel,
	}
	go s.sweepLoop(ctx)
	return s
}

// Close stops the sweep goroutine.
func (s *PendingStore[T]) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Put stores state for the key, overwriting any prior entry. Last write
// wins when two starts race on the same user; the stale challenge simply
// fails verification later.
func (s *PendingStore[T]) Put(key string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = pendingEntry[T]{
		value:     value,
		expiresAt: time.Now().Add(s.ttl),
	}
}

// Take removes and returns the state for the key. Expired entries are
// treated as absent. A taken entry can never be replayed.
func (s *PendingStore[T]) Take(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	delete(s.entries, key)

	if time.Now().After(entry.expiresAt) {
		var zero T
		return zero, false
	}
	return entry.value, true
}

func (s *PendingStore[T]) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.entries {
				if now.After(v.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
