//go:build !llama

package engine

// This file provides a no-CGO stub backend compiled when the 'llama' build
// tag is NOT set, keeping default builds and CI CGO-free. The stub refuses to
// bind rather than mock inference; the service then reports degraded health.

import "context"

// llamaBuilt indicates this binary was compiled with real inference support.
var llamaBuilt = false

type stubBackend struct{}

// NewBackend returns a backend that fails every bind attempt because no
// inference runtime is compiled in.
func NewBackend(ctxSize int) Backend { return stubBackend{} }

func (stubBackend) Name() string { return "none" }

func (stubBackend) Bind(ctx context.Context, path, device string, options map[string]string) (Runner, error) {
	return nil, ErrUnavailable("inference support not built (missing 'llama' build tag)")
}
