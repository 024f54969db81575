package session

import (
	"hash/fnv"
	"sync"
)

const stripeCount = 64

// stripedMutex serializes work per key using a fixed set of mutexes. Two keys
// may share a stripe, so a caller must never hold one stripe while acquiring
// another from the same stripedMutex.
type stripedMutex struct {
	stripes [stripeCount]sync.Mutex
}

// lock acquires the stripe for key and returns its unlock function.
func (m *stripedMutex) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &m.stripes[h.Sum32()%stripeCount]
	mu.Lock()
	return mu.Unlock
}
