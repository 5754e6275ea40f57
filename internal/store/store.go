// Package store is the adapter between sessions and the UI-facing state
// store. Writers only ever replace whole values per key.
package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bfree-trainer/bfree/internal/ringchan"
	"github.com/cornelk/hashmap"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Store receives state published by the registry. Set must be atomic per key.
type Store interface {
	Set(key string, value any)
}

// DeviceKey holds the connected device name, nil when none
func DeviceKey(role string) string { return "btDevice_" + role }

// BatteryKey holds the battery percentage, -1 when unknown
func BatteryKey(role string) string { return "batt_" + role }

// StatusKey holds the role's Status
func StatusKey(role string) string { return "status_" + role }

// ValueKey holds the latest decoded measurement
func ValueKey(role string) string { return role }

// Update is one Set call as seen by Updates readers
type Update struct {
	Seq   uint64
	Key   string
	Value any
	Time  time.Time
}

// DefaultUpdateBuffer is the number of updates kept for slow readers
const DefaultUpdateBuffer = 256

// MemoryStore is an in-process Store. Values are read lock-free; Snapshot
// lists keys in first-write order.
type MemoryStore struct {
	values  *hashmap.Map[string, any]
	mu      sync.Mutex
	order   *orderedmap.OrderedMap[string, struct{}]
	seq     atomic.Uint64
	updates *ringchan.Ring[Update]
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  hashmap.New[string, any](),
		order:   orderedmap.New[string, struct{}](),
		updates: ringchan.New[Update](DefaultUpdateBuffer),
	}
}

// Set replaces the value of key and publishes an Update
func (s *MemoryStore) Set(key string, value any) {
	s.mu.Lock()
	if _, ok := s.order.Get(key); !ok {
		s.order.Set(key, struct{}{})
	}
	s.values.Set(key, value)
	seq := s.seq.Add(1)
	s.mu.Unlock()

	s.updates.Send(Update{Seq: seq, Key: key, Value: value, Time: time.Now()})
}

// Get returns the current value of key
func (s *MemoryStore) Get(key string) (any, bool) {
	return s.values.Get(key)
}

// Snapshot copies every key and value in first-write order
func (s *MemoryStore) Snapshot() *orderedmap.OrderedMap[string, any] {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := orderedmap.New[string, any]()
	for pair := s.order.Oldest(); pair != nil; pair = pair.Next() {
		if v, ok := s.values.Get(pair.Key); ok {
			snap.Set(pair.Key, v)
		}
	}
	return snap
}

// Updates returns a lossy feed of Set calls. Under load the oldest pending
// updates are dropped; use Seq to detect gaps.
func (s *MemoryStore) Updates() <-chan Update {
	return s.updates.C()
}

// Dropped returns how many updates were discarded before being read
func (s *MemoryStore) Dropped() int64 {
	return s.updates.Stats().Overwritten
}

// Close ends the Updates feed. Set keeps working afterwards.
func (s *MemoryStore) Close() {
	s.updates.Close()
}
