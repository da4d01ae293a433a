package types

// Settings carries per-request sampling parameters. Zero values mean
// "unspecified" and are replaced by the configured defaults before use.
type Settings struct {
	// Maximum number of new tokens to generate.
	// example: 500
	MaxTokens int `json:"max_tokens,omitempty" example:"500"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling: limit candidates to top K tokens.
	// example: 50
	TopK int `json:"top_k,omitempty" example:"50"`
	// Penalty applied to repeated tokens.
	// example: 1.1
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty" example:"1.1"`
}

// ChatRequest is the non-streaming chat payload for POST /api/chat.
type ChatRequest struct {
	// Required user message to respond to.
	// example: こんにちは
	Message string `json:"message" example:"こんにちは"`
	// Maximum number of new tokens to generate.
	// example: 500
	MaxTokens int `json:"max_tokens,omitempty" example:"500"`
	// Sampling temperature.
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Top-K sampling cutoff.
	// example: 50
	TopK int `json:"top_k,omitempty" example:"50"`
	// Penalty applied to repeated tokens.
	// example: 1.1
	RepetitionPenalty float64 `json:"repetition_penalty,omitempty" example:"1.1"`
}

// ChatResponse is returned by POST /api/chat once generation has finished.
type ChatResponse struct {
	// Full generated text.
	Response string `json:"response"`
	// Wall-clock generation time in seconds.
	// example: 1.42
	InferenceTime float64 `json:"inference_time" example:"1.42"`
	// Number of tokens produced.
	// example: 87
	TokensGenerated int `json:"tokens_generated" example:"87"`
}

// HealthResponse is returned by GET /health and GET /api/health.
type HealthResponse struct {
	// Overall service health: healthy or degraded.
	// example: healthy
	Status string `json:"status" example:"healthy"`
	// Whether the model pipeline is bound and ready to generate.
	// example: true
	ModelLoaded bool `json:"model_loaded" example:"true"`
	// Whether generation runs on the NPU device profile.
	// example: true
	NPUAvailable bool `json:"npu_available" example:"true"`
	// Human-readable process memory usage.
	// example: 412.3 MB
	MemoryUsage string `json:"memory_usage" example:"412.3 MB"`
}

// ModelInfoResponse is returned by GET /api/model/info.
type ModelInfoResponse struct {
	// Configured model name.
	// example: DeepSeek-R1-Distill-Qwen-1.5B
	Name string `json:"name" example:"DeepSeek-R1-Distill-Qwen-1.5B"`
	// Whether the model is loaded and bound to a device.
	// example: true
	IsLoaded bool `json:"is_loaded" example:"true"`
	// Device the pipeline is bound to, empty until negotiation succeeds.
	// example: NPU
	Device string `json:"device,omitempty" example:"NPU"`
	// Maximum context length supported by the model.
	// example: 4096
	MaxContextLength int `json:"max_context_length,omitempty" example:"4096"`
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	// Application name.
	// example: chatd
	Application string `json:"application" example:"chatd"`
	// Overall lifecycle state (loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Whether the pipeline is ready to serve.
	// example: true
	ModelReady bool `json:"model_ready" example:"true"`
	// Device the pipeline is bound to, if any.
	// example: NPU
	Device string `json:"device,omitempty" example:"NPU"`
	// Number of generations waiting for admission.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Number of in-flight generations (0 or 1).
	// example: 1
	Inflight int `json:"inflight" example:"1"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Last error observed by the manager, if any.
	LastError string `json:"last_error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}
