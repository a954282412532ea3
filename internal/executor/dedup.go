package executor

import (
	"sync"
	"time"
)

// Dedup suppresses order intents whose client order id was already accepted
// within the TTL. It is safe for concurrent use.
type Dedup struct {
	seen  map[string]time.Time // client order id -> reserved at
	ttl   time.Duration
	mu    sync.Mutex
	clock func() time.Time
}

// NewDedup creates a Dedup with the given TTL.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		clock: time.Now,
	}
}

// Reserve records id and reports true, or reports false when id was already
// reserved within the TTL.
func (d *Dedup) Reserve(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.seen[id] = now
	return true
}

// Release forgets id so the same intent can be resubmitted. It is used when
// an intent was rejected before touching the ledger.
func (d *Dedup) Release(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of tracked ids.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
