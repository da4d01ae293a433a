// Package manager coordinates the artifact store, device negotiator,
// admission gate and inference engine behind one service surface consumed by
// the HTTP and WebSocket layers.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"chatd/internal/artifact"
	"chatd/internal/config"
	"chatd/internal/device"
	"chatd/internal/gate"
)

// State represents the lifecycle state of the service.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Manager owns the prepared pipeline and mediates every generation through
// the admission gate. The pipeline is memoized for the process lifetime: the
// artifact is ensured and the device negotiated once, on first use or during
// Warmup.
type Manager struct {
	cfg   config.Config
	store *artifact.Store
	neg   *device.Negotiator
	gate  *gate.Gate
	log   zerolog.Logger

	group     singleflight.Group
	mu        sync.RWMutex
	state     State
	pipe      *device.Pipeline
	lastErr   string
	startTime time.Time
}

// New constructs a Manager. The pipeline is not prepared yet; call Warmup or
// let the first request trigger preparation.
func New(cfg config.Config, store *artifact.Store, neg *device.Negotiator, g *gate.Gate, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     store,
		neg:       neg,
		gate:      g,
		log:       log,
		state:     StateLoading,
		startTime: time.Now(),
	}
}

// Warmup ensures the artifact and negotiates the device ahead of the first
// request. Failure is not fatal to the process: the service stays up and
// reports degraded health.
func (m *Manager) Warmup(ctx context.Context) error {
	_, err := m.ensurePipeline(ctx)
	return err
}

// ensurePipeline resolves the artifact and binds it to a device, memoized for
// the process lifetime. Concurrent first calls share one negotiation.
func (m *Manager) ensurePipeline(ctx context.Context) (*device.Pipeline, error) {
	m.mu.RLock()
	if m.pipe != nil {
		p := m.pipe
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.group.Do("pipeline", func() (any, error) {
		m.mu.RLock()
		if m.pipe != nil {
			p := m.pipe
			m.mu.RUnlock()
			return p, nil
		}
		m.mu.RUnlock()

		art, err := m.store.Ensure(ctx, m.cfg.Model.RepoID)
		if err != nil {
			m.fail(err)
			return nil, err
		}
		pipe, err := m.neg.Negotiate(ctx, art)
		if err != nil {
			m.fail(err)
			return nil, err
		}
		m.mu.Lock()
		m.pipe = pipe
		m.state = StateReady
		m.lastErr = ""
		m.mu.Unlock()
		m.log.Info().Str("device", pipe.Device.Name).Str("repo_id", art.RepoID).
			Bool("remote", art.Remote).Msg("model ready")
		return pipe, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*device.Pipeline), nil
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	m.state = StateError
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// Ready reports whether the pipeline is prepared.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pipe != nil
}

// Close releases the pipeline at shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pipe != nil {
		err := m.pipe.Close()
		m.pipe = nil
		return err
	}
	return nil
}
