// Package session implements the per-connection chat state machine. One
// Controller exists per WebSocket connection; it translates inbound frames
// into generation calls and serializes outbound frames in production order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"chatd/internal/engine"
	"chatd/internal/gate"
	"chatd/pkg/types"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingReady State = "awaiting_ready"
	StateGenerating    State = "generating"
	StateCompleting    State = "completing"
	StateCancelling    State = "cancelling"
	StateFailing       State = "failing"
	StateClosed        State = "closed"
)

// Service is the generation surface the controller drives.
type Service interface {
	// Generate starts a streaming generation; the returned release func frees
	// admission and must be called exactly once after the stream is finished.
	Generate(ctx context.Context, message string, s types.Settings) (*engine.Stream, func(), error)
}

// Sender delivers one frame to the client. Implementations must be safe for
// concurrent use; the controller relies on per-call atomicity to keep
// generation frames in production order.
type Sender interface {
	Send(types.Frame) error
}

// Controller owns one session. At most one generation is outstanding at any
// instant; a second chat request is rejected with a session-busy error frame
// and does not disturb the in-flight generation.
type Controller struct {
	id   string
	svc  Service
	send Sender
	log  zerolog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Idle controller for one connection.
func New(id string, svc Service, send Sender, log zerolog.Logger) *Controller {
	return &Controller{
		id:    id,
		svc:   svc,
		send:  send,
		log:   log.With().Str("client_id", id).Logger(),
		state: StateIdle,
	}
}

// ID returns the client id this session serves.
func (c *Controller) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HandleFrame processes one inbound frame. It is called from the connection
// read loop and never blocks on generation work.
func (c *Controller) HandleFrame(ctx context.Context, f types.Frame) {
	switch f.Type {
	case types.FramePing:
		c.emit(types.PongFrame())
	case types.FrameMessage:
		var msg types.MessageData
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				c.emit(types.ErrorFrame(types.ErrKindInternal, "invalid message payload"))
				return
			}
		}
		c.startGeneration(ctx, msg)
	case types.FrameCancel:
		c.cancelGeneration()
	default:
		c.emit(types.ErrorFrame(types.ErrKindInternal, "unknown message type: "+f.Type))
	}
}

func (c *Controller) startGeneration(ctx context.Context, msg types.MessageData) {
	if strings.TrimSpace(msg.Message) == "" {
		c.emit(types.ErrorFrame(types.ErrKindInternal, "empty message"))
		return
	}
	c.mu.Lock()
	switch c.state {
	case StateIdle:
	case StateClosed:
		c.mu.Unlock()
		return
	default:
		c.mu.Unlock()
		c.emit(types.ErrorFrame(types.ErrKindSessionBusy, "a generation is already in progress"))
		return
	}
	gctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.state = StateAwaitingReady
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()
	go c.run(gctx, msg, done)
}

// run executes one accepted request: every accepted request yields exactly
// one terminal frame unless the connection is lost first.
func (c *Controller) run(ctx context.Context, msg types.MessageData, done chan struct{}) {
	defer close(done)
	stream, release, err := c.svc.Generate(ctx, msg.Message, msg.Settings)
	if err != nil {
		c.transition(StateFailing)
		c.emit(types.ErrorFrame(errKind(err), err.Error()))
		c.toIdle()
		return
	}
	defer release()

	c.transition(StateGenerating)
	c.emit(types.StartFrame())
	for tok := range stream.Tokens() {
		c.emit(types.TokenFrame(tok, false))
	}
	stats, err := stream.Wait()
	switch {
	case err == nil:
		c.transition(StateCompleting)
		c.emit(types.CompleteFrame(stats.InferenceTime.Seconds(), stats.TotalTokens))
	case errors.Is(err, context.Canceled):
		c.transition(StateCancelling)
		c.emit(types.ErrorFrame(types.ErrKindCancelled, "generation cancelled"))
	default:
		c.transition(StateFailing)
		c.log.Error().Err(err).Msg("generation failed")
		c.emit(types.ErrorFrame(errKind(err), err.Error()))
	}
	c.toIdle()
}

// cancelGeneration requests cooperative cancellation of the outstanding
// generation, if any. A cancel with nothing in flight is a no-op.
func (c *Controller) cancelGeneration() {
	c.mu.Lock()
	cancel := c.cancel
	active := c.state == StateAwaitingReady || c.state == StateGenerating
	c.mu.Unlock()
	if active && cancel != nil {
		cancel()
	}
}

// Close tears the session down on disconnect. Closed is terminal; any
// in-flight generation is cancelled so its admission is released within one
// fragment interval.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done returns a channel closed when the current generation finishes, or nil
// when none is outstanding.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// transition applies a state change unless the session is already Closed.
func (c *Controller) transition(s State) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Controller) toIdle() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateIdle
	}
	c.cancel = nil
	c.mu.Unlock()
}

// emit delivers a frame; on a lost connection the send error is logged and
// the frame dropped, teardown follows from the read loop.
func (c *Controller) emit(f types.Frame) {
	if err := c.send.Send(f); err != nil {
		c.log.Debug().Err(err).Str("frame", f.Type).Msg("frame send failed")
	}
}

// errKind maps service errors to wire error kinds.
func errKind(err error) string {
	switch {
	case engine.IsInvalidSettings(err):
		return types.ErrKindInvalidSettings
	case gate.IsBusy(err):
		return types.ErrKindBusy
	case errors.Is(err, context.Canceled):
		return types.ErrKindCancelled
	default:
		return types.ErrKindInternal
	}
}
