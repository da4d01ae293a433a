// Package engine wraps one compiled model pipeline behind a small adapter
// surface: bind an artifact to a device, then turn (prompt, settings) into a
// cancellable stream of text fragments.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Settings captures sampling parameters for one generation call. All fields
// are expected to be fully defaulted before Validate is called.
type Settings struct {
	MaxTokens         int
	Temperature       float64
	TopP              float64
	TopK              int
	RepetitionPenalty float64
}

// Validate fails fast on out-of-range values so no compute is spent on a
// request that can never run.
func (s Settings) Validate() error {
	if s.MaxTokens < 1 {
		return invalidSettingsError{fmt.Sprintf("max_tokens must be >= 1, got %d", s.MaxTokens)}
	}
	if s.Temperature < 0 {
		return invalidSettingsError{fmt.Sprintf("temperature must be >= 0, got %g", s.Temperature)}
	}
	if s.TopP <= 0 || s.TopP > 1 {
		return invalidSettingsError{fmt.Sprintf("top_p must be in (0, 1], got %g", s.TopP)}
	}
	if s.TopK < 0 {
		return invalidSettingsError{fmt.Sprintf("top_k must be >= 0, got %d", s.TopK)}
	}
	if s.RepetitionPenalty < 0 {
		return invalidSettingsError{fmt.Sprintf("repetition_penalty must be >= 0, got %g", s.RepetitionPenalty)}
	}
	return nil
}

// Stats summarizes a finished generation. InferenceTime is strictly positive
// whenever TotalTokens > 0.
type Stats struct {
	TotalTokens   int
	InferenceTime time.Duration
}

// Backend binds model artifacts to hardware devices. Implementations must
// tear down any partially-initialized native state before returning an error
// so a later bind attempt starts clean.
type Backend interface {
	// Name identifies the backend in logs and /api/model/info.
	Name() string
	// Bind prepares the model at path for execution on the named device with
	// the given tuning options.
	Bind(ctx context.Context, path, device string, options map[string]string) (Runner, error)
}

// Runner is one prepared pipeline. Generate drives the underlying compute and
// invokes onToken for each produced fragment; it must return promptly once
// ctx is cancelled, at the next fragment boundary at the latest.
// Concurrent Generate calls on one Runner are not supported; admission is the
// caller's responsibility.
type Runner interface {
	Generate(ctx context.Context, prompt string, settings Settings, onToken func(string) error) error
	Close() error
}

// Built reports whether an inference runtime is compiled into this binary.
func Built() bool { return llamaBuilt }

// invalidSettingsError signals out-of-range sampling parameters for 400
// mapping. No compute has been spent when it is returned.
type invalidSettingsError struct{ msg string }

func (e invalidSettingsError) Error() string { return "invalid settings: " + e.msg }

// IsInvalidSettings reports whether err indicates rejected sampling
// parameters.
func IsInvalidSettings(err error) bool {
	_, ok := err.(invalidSettingsError)
	return ok
}

// unavailableError signals that no inference runtime is compiled in or the
// runtime failed, for 503 mapping.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrUnavailable constructs an unavailableError.
func ErrUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsUnavailable reports whether err indicates a missing/failed inference
// runtime.
func IsUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}
