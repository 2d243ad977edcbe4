// ABOUTME: Size-bounded, time-windowed set of recently claimed keys
// ABOUTME: Backs Idempotency-Key handling so client retries do not add duplicate turns

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type claim struct {
	key string
	at  time.Time
}

// Window tracks keys claimed within the last ttl. When full, the oldest
// claim is forgotten first. It always holds at least one key.
type Window struct {
	mu      sync.Mutex
	claims  map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Window and starts its background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Window {
	w := newWindow(ttl, maxSize, time.Now)
	go w.sweepLoop(time.Minute)
	return w
}

func newWindow(ttl time.Duration, maxSize int, now func() time.Time) *Window {
	maxSize = max(maxSize, 1)
	return &Window{
		claims:  make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Claim records key and reports whether this caller is the first to claim
// it within the window. Concurrent claims of one key have exactly one winner.
func (w *Window) Claim(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if elem, ok := w.claims[key]; ok {
		if now.Sub(elem.Value.(*claim).at) < w.ttl {
			return false
		}
		w.order.Remove(elem)
		delete(w.claims, key)
	}

	for len(w.claims) >= w.maxSize {
		w.dropOldest()
	}
	w.claims[key] = w.order.PushBack(&claim{key: key, at: now})
	return true
}

// Release forgets key so it can be claimed again, e.g. after the request
// it guarded failed.
func (w *Window) Release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if elem, ok := w.claims[key]; ok {
		w.order.Remove(elem)
		delete(w.claims, key)
	}
}

// Len returns the number of keys currently held, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.claims)
}

func (w *Window) dropOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	w.order.Remove(front)
	delete(w.claims, front.Value.(*claim).key)
}

// sweep drops expired claims. Claims are time ordered, so it stops at the
// first live one.
func (w *Window) sweep() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		c := front.Value.(*claim)
		if now.Sub(c.at) < w.ttl {
			return
		}
		w.order.Remove(front)
		delete(w.claims, c.key)
	}
}

func (w *Window) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.done:
			return
		}
	}
}

// Close stops the background sweeper. Safe to call more than once.
func (w *Window) Close() {
	w.closeOnce.Do(func() { close(w.done) })
}
