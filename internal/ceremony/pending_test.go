// ABOUTME: Tests for the single-use TTL-bounded pending ceremony store
// ABOUTME: Covers consume-once, overwrite, and expiry semantics

package ceremony

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingStore_TakeConsumes(t *testing.T) {
	s := NewPendingStore[string](time.Minute)
	defer s.Close()

	s.Put("alice", "challenge-1")

	v, ok := s.Take("alice")
	require.True(t, ok)
	assert.Equal(t, "challenge-1", v)

	_, ok = s.Take("alice")
	assert.False(t, ok, "second take must miss")
}

func TestPendingStore_MissingKey(t *testing.T) {
	s := NewPendingStore[string](time.Minute)
	defer s.Close()

	_, ok := s.Take("nobody")
	assert.False(t, ok)
}

func TestPendingStore_LastWriteWins(t *testing.T) {
	s := NewPendingStore[string](time.Minute)
	defer s.Close()

	s.Put("alice", "challenge-1")
	s.Put("alice", "challenge-2")

	v, ok := s.Take("alice")
	require.True(t, ok)
	assert.Equal(t, "challenge-2", v)
}

func TestPendingStore_ExpiredEntryIsAbsent(t *testing.T) {
	s := NewPendingStore[string](time.Millisecond)
	defer s.Close()

	s.Put("alice", "challenge-1")
	time.Sleep(5 * time.Millisecond)

	_, ok := s.Take("alice")
	assert.False(t, ok, "expired entry must behave like a miss")
}

func TestPendingStore_IndependentKeys(t *testing.T) {
	s := NewPendingStore[string](time.Minute)
	defer s.Close()

	s.Put("alice", "a")
	s.Put("bob", "b")

	v, ok := s.Take("alice")
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = s.Take("bob")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}
