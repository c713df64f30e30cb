package ledger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 16

type entry struct {
	expiry time.Time
	gen    uint64
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// Ticket is the claim TryAdmit grants on a key. Only the holder of the
// current ticket can extend or release the entry, so a late release from an
// expired claim leaves a newer one alone.
type Ticket struct {
	key string
	gen uint64
}

func (t Ticket) Key() string { return t.key }

// Valid reports whether t was issued by TryAdmit.
func (t Ticket) Valid() bool { return t.gen != 0 }

// InFlight is the set of dedup keys currently submitted and awaiting an
// outcome. Entries expire after ttl even if nobody releases them.
type InFlight struct {
	shards [shardCount]*shard
	ttl    time.Duration
	now    func() time.Time
	gen    atomic.Uint64
}

func NewInFlight(ttl time.Duration) *InFlight {
	s := &InFlight{ttl: ttl, now: time.Now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]entry)}
	}
	return s
}

func (s *InFlight) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%shardCount]
}

// TryAdmit inserts key unless a live entry exists. Check and insert happen
// under one lock.
func (s *InFlight) TryAdmit(key string) (Ticket, bool) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok && now.Before(e.expiry) {
		return Ticket{}, false
	}
	t := Ticket{key: key, gen: s.gen.Add(1)}
	sh.entries[key] = entry{expiry: now.Add(s.ttl), gen: t.gen}
	return t, true
}

// Hold pushes the expiry of t's entry to at least d from now. It reports
// false when t no longer owns the key.
func (s *InFlight) Hold(t Ticket, d time.Duration) bool {
	sh := s.shardFor(t.key)
	now := s.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[t.key]
	if !ok || e.gen != t.gen || !now.Before(e.expiry) {
		return false
	}
	if until := now.Add(d); until.After(e.expiry) {
		e.expiry = until
		sh.entries[t.key] = e
	}
	return true
}

// Release drops t's entry. A ticket whose key was readmitted since releases
// nothing.
func (s *InFlight) Release(t Ticket) bool {
	sh := s.shardFor(t.key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[t.key]
	if !ok || e.gen != t.gen {
		return false
	}
	delete(sh.entries, t.key)
	return true
}

func (s *InFlight) Contains(key string) bool {
	sh := s.shardFor(key)
	now := s.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[key]
	return ok && now.Before(e.expiry)
}

// Sweep drops expired entries and returns how many were removed.
func (s *InFlight) Sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if !now.Before(e.expiry) {
				delete(sh.entries, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len counts live entries.
func (s *InFlight) Len() int {
	now := s.now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.entries {
			if now.Before(e.expiry) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}
