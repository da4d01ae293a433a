// Package device negotiates a hardware execution target for a validated
// model artifact. Profiles are tried in ascending rank; the first successful
// bind wins and no abandoned rank is revisited within one negotiation.
package device

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"chatd/internal/artifact"
	"chatd/internal/engine"
)

// Profile is one hardware execution target with its tuning options.
// Static configuration, read-only at runtime.
type Profile struct {
	Name    string
	Rank    int
	Options map[string]string
}

// Pipeline is the result of binding an artifact to a device: a model ready to
// execute generation calls. One exists per process; invocation of its Runner
// is serialized by the admission gate.
type Pipeline struct {
	Device   Profile
	Artifact *artifact.Artifact
	Runner   engine.Runner
}

// Close releases the native resources held by the pipeline.
func (p *Pipeline) Close() error {
	if p.Runner != nil {
		return p.Runner.Close()
	}
	return nil
}

// Negotiator owns the prepared pipeline lifecycle.
type Negotiator struct {
	backend  engine.Backend
	profiles []Profile
	log      zerolog.Logger
}

// New constructs a Negotiator over the given backend and profile list.
func New(backend engine.Backend, profiles []Profile, log zerolog.Logger) *Negotiator {
	sorted := append([]Profile(nil), profiles...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	return &Negotiator{backend: backend, profiles: sorted, log: log}
}

// Negotiate binds art to the first device profile that accepts it. Bind
// failures are logged and abandoned; exhaustion fails with a
// no-device-available error carrying the attempted device names.
func (n *Negotiator) Negotiate(ctx context.Context, art *artifact.Artifact) (*Pipeline, error) {
	if art == nil || art.Status != artifact.StatusValid {
		return nil, errNoDevice{reason: "artifact not valid"}
	}
	var attempted []string
	for _, p := range n.profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		runner, err := n.backend.Bind(ctx, art.Path, p.Name, p.Options)
		if err != nil {
			attempted = append(attempted, p.Name)
			n.log.Warn().Err(err).Str("device", p.Name).Int("rank", p.Rank).
				Msg("device bind failed, trying next")
			continue
		}
		n.log.Info().Str("device", p.Name).Str("backend", n.backend.Name()).
			Msg("pipeline prepared")
		return &Pipeline{Device: p, Artifact: art, Runner: runner}, nil
	}
	return nil, errNoDevice{reason: "all bindings failed: " + strings.Join(attempted, ", ")}
}

// errNoDevice signals that every configured device rejected the artifact.
// Fatal: there is no further fallback.
type errNoDevice struct{ reason string }

func (e errNoDevice) Error() string { return "no device available: " + e.reason }

// IsNoDevice reports whether err indicates exhausted device negotiation.
func IsNoDevice(err error) bool {
	_, ok := err.(errNoDevice)
	return ok
}
