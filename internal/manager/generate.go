package manager

import (
	"context"
	"strings"

	"chatd/internal/engine"
	"chatd/pkg/types"
)

// Generate validates settings, resolves the pipeline, acquires admission and
// starts a streaming generation. On success the caller must drain the stream
// and call the release func exactly once (it is safe against double calls).
// Settings are validated before admission so a rejected request never spends
// compute or occupies the gate.
func (m *Manager) Generate(ctx context.Context, message string, s types.Settings) (*engine.Stream, func(), error) {
	settings := m.applyDefaults(s)
	if err := settings.Validate(); err != nil {
		return nil, nil, err
	}
	pipe, err := m.ensurePipeline(ctx)
	if err != nil {
		return nil, nil, err
	}
	release, err := m.gate.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	stream, err := engine.Run(ctx, pipe.Runner, formatChatPrompt(message), settings)
	if err != nil {
		release()
		return nil, nil, err
	}
	return stream, release, nil
}

// Chat is the non-streaming variant: it fully drains the same lazy sequence
// before responding.
func (m *Manager) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	stream, release, err := m.Generate(ctx, req.Message, types.Settings{
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		TopK:              req.TopK,
		RepetitionPenalty: req.RepetitionPenalty,
	})
	if err != nil {
		return types.ChatResponse{}, err
	}
	defer release()

	var b strings.Builder
	for tok := range stream.Tokens() {
		b.WriteString(tok)
	}
	stats, err := stream.Wait()
	if err != nil {
		return types.ChatResponse{}, err
	}
	return types.ChatResponse{
		Response:        strings.TrimSpace(b.String()),
		InferenceTime:   stats.InferenceTime.Seconds(),
		TokensGenerated: stats.TotalTokens,
	}, nil
}

// applyDefaults fills unspecified sampling parameters from the configured
// inference defaults.
func (m *Manager) applyDefaults(s types.Settings) engine.Settings {
	d := m.cfg.Inference
	out := engine.Settings{
		MaxTokens:         s.MaxTokens,
		Temperature:       s.Temperature,
		TopP:              s.TopP,
		TopK:              s.TopK,
		RepetitionPenalty: s.RepetitionPenalty,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = d.MaxTokens
	}
	if out.Temperature == 0 {
		out.Temperature = d.Temperature
	}
	if out.TopP == 0 {
		out.TopP = d.TopP
	}
	if out.TopK == 0 {
		out.TopK = d.TopK
	}
	if out.RepetitionPenalty == 0 {
		out.RepetitionPenalty = d.RepetitionPenalty
	}
	return out
}

// formatChatPrompt wraps the user message in the model's chat template.
func formatChatPrompt(message string) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\n")
	b.WriteString(message)
	b.WriteString("<|eot_id|><|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}
