package engine

import (
	"context"
	"time"
)

// streamBuf bounds the fragment channel so a slow consumer applies
// backpressure to the worker instead of buffering unbounded output.
const streamBuf = 16

// Stream adapts a blocking Runner.Generate call into a lazy, cancellable
// sequence of text fragments. The sequence is finite and not restartable:
// once Tokens is drained, Wait reports terminal statistics.
//
// The generation runs on its own goroutine so the caller's scheduler is never
// stalled by compute; cancellation is cooperative and observed at the next
// fragment boundary.
type Stream struct {
	ch     chan string
	cancel context.CancelFunc
	done   chan struct{}
	stats  Stats
	err    error
}

// Run validates settings and starts a generation against r. The returned
// Stream must be drained via Tokens and finished with Wait.
func Run(ctx context.Context, r Runner, prompt string, settings Settings) (*Stream, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	gctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan string, streamBuf),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.work(gctx, r, prompt, settings)
	return s, nil
}

func (s *Stream) work(ctx context.Context, r Runner, prompt string, settings Settings) {
	defer close(s.done)
	defer close(s.ch)
	defer s.cancel()
	start := time.Now()
	count := 0
	err := r.Generate(ctx, prompt, settings, func(tok string) error {
		select {
		case s.ch <- tok:
			count++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	elapsed := time.Since(start)
	if elapsed <= 0 {
		// coarse clocks can report zero
		elapsed = time.Nanosecond
	}
	s.stats = Stats{TotalTokens: count, InferenceTime: elapsed}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	s.err = err
}

// Tokens is the fragment sequence in production order. It is closed after the
// final fragment; a cancelled stream closes without a synthetic completion.
func (s *Stream) Tokens() <-chan string { return s.ch }

// Cancel requests cooperative cancellation. Safe to call at any point and
// more than once; it takes effect at the next fragment boundary.
func (s *Stream) Cancel() { s.cancel() }

// Wait blocks until the worker has finished and returns terminal statistics.
// A cancelled generation reports context.Canceled.
func (s *Stream) Wait() (Stats, error) {
	<-s.done
	return s.stats, s.err
}
