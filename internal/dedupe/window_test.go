// ABOUTME: Tests for the idempotency window
// ABOUTME: Uses a fake clock for expiry and checks single-winner claims under contention

package dedupe

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(ttl time.Duration, size int) (*Window, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newWindow(ttl, size, clock.Now), clock
}

func TestClaim_FirstWins(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 10)

	assert.True(t, w.Claim("42:abc"))
	assert.False(t, w.Claim("42:abc"), "retry inside the window is a duplicate")
	assert.True(t, w.Claim("43:abc"), "keys are independent")
}

func TestClaim_Expires(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)

	assert.True(t, w.Claim("k"))
	clock.Advance(59 * time.Second)
	assert.False(t, w.Claim("k"))
	clock.Advance(time.Second)
	assert.True(t, w.Claim("k"), "claim is fresh again after ttl")
}

func TestRelease(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 10)

	assert.True(t, w.Claim("k"))
	w.Release("k")
	assert.True(t, w.Claim("k"))
	w.Release("missing")
}

func TestClaim_EvictsOldestWhenFull(t *testing.T) {
	w, clock := newTestWindow(time.Hour, 3)

	for _, k := range []string{"a", "b", "c"} {
		assert.True(t, w.Claim(k))
		clock.Advance(time.Second)
	}
	assert.True(t, w.Claim("d"))
	assert.Equal(t, 3, w.Len())

	assert.True(t, w.Claim("a"), "oldest claim was evicted")
	assert.False(t, w.Claim("d"))
}

func TestClaim_NonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -5} {
		w, _ := newTestWindow(time.Minute, size)

		assert.True(t, w.Claim("a"))
		assert.False(t, w.Claim("a"))
		assert.True(t, w.Claim("b"))
		assert.Equal(t, 1, w.Len())
	}
}

func TestSweep(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)

	w.Claim("old-1")
	w.Claim("old-2")
	clock.Advance(30 * time.Second)
	w.Claim("young")
	clock.Advance(45 * time.Second)

	w.sweep()
	assert.Equal(t, 1, w.Len())
	assert.False(t, w.Claim("young"))
}

func TestClaim_ConcurrentSingleWinner(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 1000)

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Claim("contested") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestClaim_ConcurrentManyKeys(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 50)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range 100 {
				w.Claim(strconv.Itoa(id) + ":" + strconv.Itoa(j))
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, w.Len(), 50)
}

func TestClose_Idempotent(t *testing.T) {
	w := New(time.Minute, 10)
	w.Close()
	w.Close()
}
