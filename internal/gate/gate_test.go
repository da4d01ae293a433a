package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireExclusive(t *testing.T) {
	g := New(4, time.Second)
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if g.Inflight() != 1 {
		t.Fatalf("expected 1 inflight")
	}

	var inflight, maxInflight int64
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt64(&inflight, 1)
			for {
				cur := atomic.LoadInt64(&maxInflight)
				if n <= cur || atomic.CompareAndSwapInt64(&maxInflight, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inflight, -1)
			rel()
		}()
	}
	time.Sleep(10 * time.Millisecond)
	release()
	wg.Wait()
	if atomic.LoadInt64(&maxInflight) > 1 {
		t.Fatalf("admission was not exclusive: max inflight %d", maxInflight)
	}
	if g.Inflight() != 0 || g.QueueLen() != 0 {
		t.Fatalf("gate not drained: inflight=%d queue=%d", g.Inflight(), g.QueueLen())
	}
}

func TestAcquireFIFO(t *testing.T) {
	g := New(8, time.Second)
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rel, err := g.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
		}()
		// Stagger arrivals so queue order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}
	release()
	wg.Wait()
	for i := range order {
		if order[i] != i {
			t.Fatalf("expected FIFO admission, got %v", order)
		}
	}
}

func TestAcquireQueueFull(t *testing.T) {
	g := New(1, time.Second)
	release, _ := g.Acquire(context.Background())
	defer release()

	done := make(chan struct{})
	go func() {
		rel, err := g.Acquire(context.Background())
		if err == nil {
			defer rel()
		}
		close(done)
	}()
	time.Sleep(10 * time.Millisecond) // let the waiter enqueue

	if _, err := g.Acquire(context.Background()); !IsBusy(err) {
		t.Fatalf("expected busy on full queue, got %v", err)
	}
	release()
	<-done
}

func TestAcquireTimeout(t *testing.T) {
	g := New(4, 20*time.Millisecond)
	release, _ := g.Acquire(context.Background())
	defer release()

	if _, err := g.Acquire(context.Background()); !IsBusy(err) {
		t.Fatalf("expected busy on timeout, got %v", err)
	}
	if g.QueueLen() != 0 {
		t.Fatalf("timed-out waiter left in queue")
	}
}

func TestAcquireContextCancel(t *testing.T) {
	g := New(4, time.Second)
	release, _ := g.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := g.Acquire(ctx); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if g.QueueLen() != 0 {
		t.Fatalf("cancelled waiter left in queue")
	}
}

func TestReleaseIdempotent(t *testing.T) {
	g := New(4, time.Second)
	release, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
	release()
	if g.Inflight() != 0 {
		t.Fatalf("double release corrupted state")
	}
	// Gate still usable.
	rel2, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	rel2()
}

func TestReleaseAfterHolderVanishesUnblocksNext(t *testing.T) {
	// Models a disconnected session: its release must admit the next waiter
	// without deadlock.
	g := New(4, time.Second)
	release, _ := g.Acquire(context.Background())

	acquired := make(chan struct{})
	go func() {
		rel, err := g.Acquire(context.Background())
		if err != nil {
			t.Errorf("acquire: %v", err)
			return
		}
		close(acquired)
		rel()
	}()
	time.Sleep(5 * time.Millisecond)
	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("waiter not admitted after release")
	}
}
