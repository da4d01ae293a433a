// Package gate serializes access to the single shared compute pipeline.
// Admission is strictly one generation at a time process-wide, with a bounded
// FIFO wait queue: first-requested, first-admitted.
package gate

import (
	"context"
	"sync"
	"time"
)

// Defaults applied when corresponding constructor arguments are unset.
const (
	defaultQueueDepth = 8
	defaultMaxWait    = 30 * time.Second
)

type waiter struct {
	grant chan struct{}
}

// Gate is the process-wide admission gate.
type Gate struct {
	mu      sync.Mutex
	busy    bool
	waiters []*waiter
	depth   int
	maxWait time.Duration
}

// New constructs a Gate with the given queue depth and maximum wait.
func New(queueDepth int, maxWait time.Duration) *Gate {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	if maxWait <= 0 {
		maxWait = defaultMaxWait
	}
	return &Gate{depth: queueDepth, maxWait: maxWait}
}

// Acquire blocks until the caller is admitted, the queue rejects it, the wait
// times out, or ctx is cancelled. On success the returned release func must
// be called exactly once; it is safe against double calls.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return g.releaseFunc(), nil
	}
	if len(g.waiters) >= g.depth {
		g.mu.Unlock()
		return nil, busyError{"admission queue full"}
	}
	w := &waiter{grant: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	timer := time.NewTimer(g.maxWait)
	defer timer.Stop()
	select {
	case <-w.grant:
		return g.releaseFunc(), nil
	case <-ctx.Done():
		g.abandon(w)
		return nil, ctx.Err()
	case <-timer.C:
		g.abandon(w)
		return nil, busyError{"admission wait timed out"}
	}
}

// abandon removes w from the queue. If the grant raced the abandonment, the
// slot is handed to the next waiter so it is never lost.
func (g *Gate) abandon(w *waiter) {
	g.mu.Lock()
	for i, x := range g.waiters {
		if x == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.mu.Unlock()
			return
		}
	}
	g.mu.Unlock()
	// Already granted: we own the slot, pass it on.
	<-w.grant
	g.release()
}

func (g *Gate) releaseFunc() func() {
	var once sync.Once
	return func() { once.Do(g.release) }
}

func (g *Gate) release() {
	g.mu.Lock()
	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		g.mu.Unlock()
		close(w.grant)
		return
	}
	g.busy = false
	g.mu.Unlock()
}

// Inflight reports whether a generation currently holds the gate (0 or 1).
func (g *Gate) Inflight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return 1
	}
	return 0
}

// QueueLen reports the number of callers waiting for admission.
func (g *Gate) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// busyError signals queue overflow or wait timeout for 429 mapping.
type busyError struct{ reason string }

func (e busyError) Error() string { return "too busy: " + e.reason }

// IsBusy reports whether err indicates admission backpressure.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}
