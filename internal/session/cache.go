// Package session implements the Session Cache (spec §4.4): a bounded,
// process-local store keyed by session identifier holding the most
// recent retrieval artifacts and last answer per session.
package session

import (
	"sync"
	"time"

	"github.com/cityhall/hybridqa/internal/routing"
	"github.com/cityhall/hybridqa/internal/structured"
	"github.com/cityhall/hybridqa/internal/unstructured"
)

// DefaultIdleTTL and DefaultMaxSessions are idle_ttl_minutes and
// max_sessions (spec §6).
const (
	DefaultIdleTTL     = 60 * time.Minute
	DefaultMaxSessions = 100
)

// Entry is the Cache Entry value (spec §3): owned exclusively by the
// Session Cache. Every other component holds at most a short-lived
// borrow for the duration of one turn (spec §5).
type Entry struct {
	SessionID          string
	LastTouchedAt      time.Time
	StructuredResult   *structured.Result
	UnstructuredResult *unstructured.Result
	LastAnswer         string
	LastMode           routing.Plan
}

// HasArtifacts reports whether the entry has any prior retrieval to
// reuse, per the Reuse Judge's "no prior retrieval artifacts" check
// (spec §4.5).
func (e *Entry) HasArtifacts() bool {
	return e != nil && (e.StructuredResult != nil || e.UnstructuredResult != nil)
}

// clone returns a deep-enough copy for safe handoff outside the lock:
// the Entry struct itself is copied: the result pointers are shared,
// but results are treated as immutable once stored (only Put replaces
// them wholesale, never mutates through the pointer).
func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

// Update is a partial update applied by Put: nil fields are left
// unchanged in the existing entry (spec §4.4 "merges provided fields").
type Update struct {
	StructuredResult   *structured.Result
	UnstructuredResult *unstructured.Result
	LastAnswer         *string
	LastMode           *routing.Plan
}

// Cache is the Session Cache contract: get, put, sweep.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	idleTTL     time.Duration
	maxSessions int
	now         func() time.Time
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithIdleTTL overrides DefaultIdleTTL.
func WithIdleTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.idleTTL = d
		}
	}
}

// WithMaxSessions overrides DefaultMaxSessions.
func WithMaxSessions(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxSessions = n
		}
	}
}

// withClock overrides the time source; used by tests to control aging
// deterministically without sleeping.
func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New constructs a Cache with the given options.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:     make(map[string]*Entry),
		idleTTL:     DefaultIdleTTL,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the entry for sessionID, refreshing its
// last_touched_at on a hit (spec §4.4). Returns nil if no entry exists
// or it has aged out.
func (c *Cache) Get(sessionID string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()

	e, ok := c.entries[sessionID]
	if !ok {
		return nil
	}
	e.LastTouchedAt = c.now()
	return e.clone()
}

// Put merges update's non-nil fields into sessionID's entry, creating
// one if none exists. last_touched_at is refreshed. If inserting a new
// session would exceed max_sessions, the single least-recently-touched
// existing entry is evicted first (spec §8 capacity boundary).
func (c *Cache) Put(sessionID string, update Update) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sweepLocked()

	e, exists := c.entries[sessionID]
	if !exists {
		if len(c.entries) >= c.maxSessions {
			c.evictOneLRULocked()
		}
		e = &Entry{SessionID: sessionID}
		c.entries[sessionID] = e
	}

	if update.StructuredResult != nil {
		e.StructuredResult = update.StructuredResult
	}
	if update.UnstructuredResult != nil {
		e.UnstructuredResult = update.UnstructuredResult
	}
	if update.LastAnswer != nil {
		e.LastAnswer = *update.LastAnswer
	}
	if update.LastMode != nil {
		e.LastMode = *update.LastMode
	}
	e.LastTouchedAt = c.now()

	return e.clone()
}

// Sweep performs the idle-eviction maintenance pass. It is safe to call
// opportunistically and is idempotent (spec §8).
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
}

// Len reports the current number of entries, for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLocked() {
	cutoff := c.now().Add(-c.idleTTL)
	for id, e := range c.entries {
		if e.LastTouchedAt.Before(cutoff) {
			delete(c.entries, id)
		}
	}
}

// evictOneLRULocked removes the single least-recently-touched entry.
func (c *Cache) evictOneLRULocked() {
	var (
		oldestID   string
		oldestTime time.Time
		first      = true
	)
	for id, e := range c.entries {
		if first || e.LastTouchedAt.Before(oldestTime) {
			oldestID, oldestTime, first = id, e.LastTouchedAt, false
		}
	}
	if !first {
		delete(c.entries, oldestID)
	}
}
