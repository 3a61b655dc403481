package internal

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// SharedValueRegistry maps ids to shared values.
type SharedValueRegistry struct {
	mu sync.RWMutex

	values map[int]SharedValue
}

func NewSharedValueRegistry() *SharedValueRegistry {
	return &SharedValueRegistry{
		values: make(map[int]SharedValue),
	}
}

// Register stores sv under id. A different value already registered under id is
// unregistered first.
func (r *SharedValueRegistry) Register(id int, sv SharedValue) {
	r.mu.Lock()
	prev, ok := r.values[id]
	r.values[id] = sv
	r.mu.Unlock()

	Logger().Debug("registered shared value", zap.Int("id", id))

	if ok && prev != sv {
		prev.WillUnregister()
	}
}

func (r *SharedValueRegistry) Lookup(id int) (SharedValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sv, ok := r.values[id]
	return sv, ok
}

// Unregister removes the value registered under id, calling its WillUnregister
// hook. It reports whether a value was removed.
func (r *SharedValueRegistry) Unregister(id int) bool {
	r.mu.Lock()
	sv, ok := r.values[id]
	delete(r.values, id)
	r.mu.Unlock()

	if !ok {
		return false
	}

	// outside the lock: hooks may look other values up
	sv.WillUnregister()
	Logger().Debug("unregistered shared value", zap.Int("id", id))

	return true
}

// IDs returns the registered ids in ascending order.
func (r *SharedValueRegistry) IDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.values))
	for id := range r.values {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (r *SharedValueRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.values)
}

// Close unregisters every value, in id order.
func (r *SharedValueRegistry) Close() {
	for _, id := range r.IDs() {
		r.Unregister(id)
	}
}
