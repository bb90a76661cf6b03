// Package state holds process-local conversation state keyed by chat or user id.
package state

import (
	"sync"
	"time"
)

const shardCount = 32

type entry[V any] struct {
	value V
	seen  time.Time
}

type shard[V any] struct {
	mu      sync.Mutex
	entries map[int64]*entry[V]
}

// Map is a sharded concurrent map keyed by chat or user id.
// Entries untouched for longer than the TTL are dropped by Evict.
type Map[V any] struct {
	shards [shardCount]shard[V]
	ttl    time.Duration
	now    func() time.Time
}

// New creates a map. A non-positive ttl disables eviction.
func New[V any](ttl time.Duration) *Map[V] {
	m := &Map[V]{ttl: ttl, now: time.Now}
	for i := range m.shards {
		m.shards[i].entries = make(map[int64]*entry[V])
	}
	return m
}

func (m *Map[V]) shard(key int64) *shard[V] {
	return &m.shards[uint64(key)%shardCount]
}

// Load returns the value for key and refreshes its last-use time.
func (m *Map[V]) Load(key int64) (V, bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.seen = m.now()
	return e.value, true
}

func (m *Map[V]) Store(key int64, v V) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry[V]{value: v, seen: m.now()}
}

// LoadOrCreate returns the existing value or stores the one built by create.
func (m *Map[V]) LoadOrCreate(key int64, create func() V) V {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.seen = m.now()
		return e.value
	}
	v := create()
	s.entries[key] = &entry[V]{value: v, seen: m.now()}
	return v
}

func (m *Map[V]) Delete(key int64) {
	m.LoadAndDelete(key)
}

func (m *Map[V]) LoadAndDelete(key int64) (V, bool) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(s.entries, key)
	return e.value, true
}

func (m *Map[V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Evict drops idle entries and reports how many were removed.
func (m *Map[V]) Evict() int {
	if m.ttl <= 0 {
		return 0
	}
	deadline := m.now().Add(-m.ttl)
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if e.seen.Before(deadline) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
