package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cityhall/hybridqa/internal/routing"
)

func newTestCache(t *testing.T, opts ...Option) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(0, 0)}
	allOpts := append([]Option{withClock(clock.Now)}, opts...)
	return New(allOpts...), clock
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestPutThenGet_ReturnsMergedFields(t *testing.T) {
	c, _ := newTestCache(t)

	answer := "hello"
	mode := routing.Structured
	c.Put("s1", Update{LastAnswer: &answer, LastMode: &mode})

	e := c.Get("s1")
	require.NotNil(t, e)
	assert.Equal(t, "hello", e.LastAnswer)
	assert.Equal(t, routing.Structured, e.LastMode)
}

func TestPut_PreservesUnprovidedFields(t *testing.T) {
	c, _ := newTestCache(t)

	answer := "first"
	c.Put("s1", Update{LastAnswer: &answer})

	mode := routing.Hybrid
	c.Put("s1", Update{LastMode: &mode})

	e := c.Get("s1")
	require.NotNil(t, e)
	assert.Equal(t, "first", e.LastAnswer, "unprovided field must survive a second partial put")
	assert.Equal(t, routing.Hybrid, e.LastMode)
}

func TestGet_MissingSessionReturnsNil(t *testing.T) {
	c, _ := newTestCache(t)
	assert.Nil(t, c.Get("nope"))
}

func TestIdleEviction(t *testing.T) {
	c, clock := newTestCache(t, WithIdleTTL(60*time.Minute))

	answer := "hi"
	c.Put("s1", Update{LastAnswer: &answer})
	require.NotNil(t, c.Get("s1"))

	clock.Advance(61 * time.Minute)
	c.Sweep()

	assert.Nil(t, c.Get("s1"))
}

func TestCapacityEviction_EvictsExactlyOneLRU(t *testing.T) {
	c, clock := newTestCache(t, WithMaxSessions(2))

	a := "a"
	c.Put("s1", Update{LastAnswer: &a})
	clock.Advance(time.Minute)
	c.Put("s2", Update{LastAnswer: &a})

	require.Equal(t, 2, c.Len())

	clock.Advance(time.Minute)
	c.Put("s3", Update{LastAnswer: &a})

	assert.Equal(t, 2, c.Len(), "capacity must hold at max_sessions")
	assert.Nil(t, c.Get("s1"), "s1 was least-recently-touched and must be evicted")
	assert.NotNil(t, c.Get("s2"))
	assert.NotNil(t, c.Get("s3"))
}

func TestGetRefreshesLastTouchedAt(t *testing.T) {
	c, clock := newTestCache(t, WithMaxSessions(2))

	a := "a"
	c.Put("s1", Update{LastAnswer: &a})
	clock.Advance(time.Minute)
	c.Put("s2", Update{LastAnswer: &a})

	// Touch s1 so it is no longer the least-recently-touched entry.
	clock.Advance(time.Minute)
	c.Get("s1")

	clock.Advance(time.Minute)
	c.Put("s3", Update{LastAnswer: &a})

	assert.NotNil(t, c.Get("s1"), "s1 was refreshed by Get and must survive eviction")
	assert.Nil(t, c.Get("s2"), "s2 is now least-recently-touched")
}

func TestSweep_IsIdempotent(t *testing.T) {
	c, clock := newTestCache(t, WithIdleTTL(time.Minute))

	a := "a"
	c.Put("s1", Update{LastAnswer: &a})
	clock.Advance(2 * time.Minute)

	c.Sweep()
	lenAfterFirst := c.Len()
	c.Sweep()
	assert.Equal(t, lenAfterFirst, c.Len())
}
