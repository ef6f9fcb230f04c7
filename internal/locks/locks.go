package locks

import "sync"

// Registry hands out one mutex per key, created lazily on first use.
// Two operations locked on the same key never run concurrently; operations
// on different keys never block each other. Mutexes are kept for the process
// lifetime, which is fine for a per-owner keyspace.
type Registry struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
//
//	defer r.Lock(ownerID)()
func (r *Registry) Lock(key int64) func() {
	r.mu.Lock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}
