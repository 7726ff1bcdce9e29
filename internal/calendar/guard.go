// Package calendar provides serialized access to the shared crew calendar:
// a per-crew locking guard that every write path (booking, sweep,
// compaction) acquires before committing, and a deterministic in-memory
// CalendarStore used by tests and local mode. The production store is the
// Postgres mirror in internal/db.
package calendar

import "sync"

// Guard is the in-process serialization point for calendar writes, keyed by
// crew. Holders re-read busy intervals after acquiring so a slot claimed by
// a concurrent operation is seen before commit. Availability search and
// weather lookups for independent crews proceed concurrently; only the
// commit section runs under the lock.
type Guard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for a crew, creating it on first use.
func (g *Guard) Lock(crewID string) {
	g.crewLock(crewID).Lock()
}

// Unlock releases the crew's lock.
func (g *Guard) Unlock(crewID string) {
	g.crewLock(crewID).Unlock()
}

func (g *Guard) crewLock(crewID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[crewID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[crewID] = l
	}
	return l
}
