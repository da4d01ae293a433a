package types

import "encoding/json"

// Frame type tags used on the chat WebSocket. Client to server: message,
// cancel, ping. Server to client: start, token, complete, error, pong.
const (
	FrameMessage  = "message"
	FrameCancel   = "cancel"
	FramePing     = "ping"
	FrameStart    = "start"
	FrameToken    = "token"
	FrameComplete = "complete"
	FrameError    = "error"
	FramePong     = "pong"
)

// Error kinds carried in error frames.
const (
	ErrKindSessionBusy     = "session_busy"
	ErrKindBusy            = "busy"
	ErrKindCancelled       = "cancelled"
	ErrKindInvalidSettings = "invalid_settings"
	ErrKindInternal        = "internal"
)

// Frame is the envelope for every WebSocket message in either direction.
// Data holds the type-specific payload and may be absent (start, ping, pong).
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessageData is the payload of an inbound message frame.
type MessageData struct {
	Message  string   `json:"message"`
	Settings Settings `json:"settings"`
}

// TokenData is the payload of an outbound token frame.
type TokenData struct {
	Token   string `json:"token"`
	IsFinal bool   `json:"is_final"`
}

// CompleteData is the payload of the terminal complete frame.
type CompleteData struct {
	// Wall-clock generation time in seconds.
	InferenceTime float64 `json:"inference_time"`
	TotalTokens   int     `json:"total_tokens"`
}

// ErrorData is the payload of the terminal error frame.
type ErrorData struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func mustFrame(typ string, data any) Frame {
	if data == nil {
		return Frame{Type: typ}
	}
	b, _ := json.Marshal(data)
	return Frame{Type: typ, Data: b}
}

// StartFrame signals that a generation was admitted and tokens will follow.
func StartFrame() Frame { return mustFrame(FrameStart, nil) }

// TokenFrame wraps one generated fragment.
func TokenFrame(tok string, final bool) Frame {
	return mustFrame(FrameToken, TokenData{Token: tok, IsFinal: final})
}

// CompleteFrame is the normal terminal frame with generation statistics.
func CompleteFrame(inferenceTime float64, totalTokens int) Frame {
	return mustFrame(FrameComplete, CompleteData{InferenceTime: inferenceTime, TotalTokens: totalTokens})
}

// ErrorFrame is the failure terminal frame.
func ErrorFrame(kind, msg string) Frame {
	return mustFrame(FrameError, ErrorData{Kind: kind, Message: msg})
}

// PongFrame answers a client ping.
func PongFrame() Frame { return mustFrame(FramePong, nil) }
