//go:build llama

package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaBuilt indicates this binary was compiled with real inference support.
var llamaBuilt = true

// llamaBackend binds artifacts through llama.cpp. Only general-purpose
// devices are supported; binds for accelerator profiles fail so negotiation
// falls through to CPU.
type llamaBackend struct {
	ctxSize int
}

// NewBackend returns the llama.cpp-backed engine.
func NewBackend(ctxSize int) Backend {
	return &llamaBackend{ctxSize: ctxSize}
}

func (b *llamaBackend) Name() string { return "llama.cpp" }

func (b *llamaBackend) Bind(ctx context.Context, path, device string, options map[string]string) (Runner, error) {
	switch device {
	case "CPU", "GPU":
	default:
		return nil, ErrUnavailable("device " + device + " not supported by llama.cpp backend")
	}
	if filepath.Dir(path) == "." && !filepath.IsAbs(path) {
		// Remote-backed artifact: the path is a bare repo id.
		return nil, errors.New("llama.cpp backend requires a local artifact")
	}
	mo := []llama.ModelOption{llama.SetContext(b.ctxSize)}
	if device == "GPU" {
		layers := optInt(options, "GPU_LAYERS", 0)
		if layers > 0 {
			mo = append(mo, llama.SetGPULayers(layers))
		}
	}
	m, err := llama.New(filepath.Join(path, "openvino_model.bin"), mo...)
	if err != nil {
		return nil, err
	}
	return &llamaRunner{
		model:   m,
		threads: optInt(options, "INFERENCE_NUM_THREADS", 4),
	}, nil
}

// llamaRunner owns the loaded model.
type llamaRunner struct {
	model   *llama.LLama
	threads int
}

func (r *llamaRunner) Generate(ctx context.Context, prompt string, settings Settings, onToken func(string) error) error {
	if r.model == nil {
		return errors.New("model not initialized")
	}
	// Bridge token streaming to onToken and respect cancellation.
	r.model.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		return onToken(tok) == nil
	})
	po := []llama.PredictOption{
		llama.SetTokens(settings.MaxTokens),
		llama.SetThreads(r.threads),
		llama.SetTemperature(float32(settings.Temperature)),
		llama.SetTopP(float32(settings.TopP)),
		llama.SetTopK(settings.TopK),
		llama.SetPenalty(float32(settings.RepetitionPenalty)),
	}
	_, err := r.model.Predict(prompt, po...)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (r *llamaRunner) Close() error {
	if r.model != nil {
		r.model.Free()
		r.model = nil
	}
	return nil
}

func optInt(options map[string]string, key string, def int) int {
	if v, ok := options[key]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
