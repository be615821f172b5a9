package dedup

import (
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
)

// DefaultKeySetCapacity bounds listing keys remembered per connection.
const DefaultKeySetCapacity = 512

// KeySet remembers the most recent keys up to a fixed capacity; the oldest key
// is forgotten first. Keys are stored as 64-bit xxh3 hashes.
type KeySet struct {
	mu    sync.Mutex
	ring  []uint64
	next  int
	full  bool
	index map[uint64]struct{}
}

// NewKeySet returns a KeySet holding at most capacity keys.
func NewKeySet(capacity int) *KeySet {
	if capacity <= 0 {
		capacity = DefaultKeySetCapacity
	}
	return &KeySet{
		ring:  make([]uint64, capacity),
		index: make(map[uint64]struct{}, capacity),
	}
}

// HashKey hashes the joined parts with a separator that cannot appear in
// protocol text, so ("AB","C") and ("A","BC") differ.
func HashKey(parts ...string) uint64 {
	return xxh3.HashString(strings.Join(parts, "\x1f"))
}

// Add records key and reports whether it was new.
func (s *KeySet) Add(key string) bool {
	return s.AddHash(HashKey(key))
}

// AddHash is Add for a precomputed hash.
func (s *KeySet) AddHash(h uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[h]; ok {
		return false
	}
	if s.full {
		delete(s.index, s.ring[s.next])
	}
	s.ring[s.next] = h
	s.index[h] = struct{}{}
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.full = true
	}
	return true
}

// Contains reports whether key is currently remembered.
func (s *KeySet) Contains(key string) bool {
	return s.ContainsHash(HashKey(key))
}

// ContainsHash is Contains for a precomputed hash.
func (s *KeySet) ContainsHash(h uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[h]
	return ok
}

// Len returns the number of remembered keys.
func (s *KeySet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}
