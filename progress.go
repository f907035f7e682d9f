package turnstile

import (
	"context"
	"sync"
)

// progressHub fans execution progress out to waiters. Lanes publish their
// next-expected counter after every execution; waiters block until a
// category's counter reaches a threshold. This replaces sleep-polling in
// tests and lets harness code await quiescence.
type progressHub struct {
	mu      sync.Mutex
	next    map[string]uint64 // category → last published next-expected counter
	waiters map[string][]*progressWaiter
}

type progressWaiter struct {
	min uint64
	ch  chan struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{
		next:    make(map[string]uint64),
		waiters: make(map[string][]*progressWaiter),
	}
}

// signal publishes a lane's new next-expected counter and wakes waiters
// whose threshold has been reached. A reset publishes 0; waiters simply
// keep waiting for the counter to climb back.
func (h *progressHub) signal(category string, next uint64) {
	h.mu.Lock()
	h.next[category] = next
	ws := h.waiters[category]
	var keep []*progressWaiter
	for _, w := range ws {
		if next >= w.min {
			close(w.ch)
		} else {
			keep = append(keep, w)
		}
	}
	h.waiters[category] = keep
	h.mu.Unlock()
}

// wait blocks until category's published counter reaches at least n, or ctx
// is canceled.
func (h *progressHub) wait(ctx context.Context, category string, n uint64) error {
	h.mu.Lock()
	if h.next[category] >= n {
		h.mu.Unlock()
		return nil
	}
	w := &progressWaiter{min: n, ch: make(chan struct{})}
	h.waiters[category] = append(h.waiters[category], w)
	h.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		h.remove(category, w)
		return ctx.Err()
	}
}

// remove drops a waiter that gave up, freeing its slot in the hub.
func (h *progressHub) remove(category string, w *progressWaiter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ws := h.waiters[category]
	for i, e := range ws {
		if e == w {
			h.waiters[category] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}
