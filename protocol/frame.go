package protocol

import "encoding/json"

// FrameType identifies the payload carried by a Frame.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameTrade    FrameType = "trade"
	FrameResponse FrameType = "response"
	FrameError    FrameType = "error"
	FrameStatus   FrameType = "status"
)

// Frame is the envelope exchanged with stream connectors.
type Frame struct {
	// Version is the protocol version for backward compatibility.
	Version uint8 `json:"version"`

	Type FrameType `json:"type"`

	// SessionID is set on frames sent by the core.
	SessionID string `json:"session_id,omitempty"`

	// Payload holds the serialized Request, Trade, Response, ErrorPayload or StatusPayload.
	// Deserialization is deferred until Type is known.
	Payload json.RawMessage `json:"payload"`
}

// ErrorPayload reports a request that failed inside the core.
type ErrorPayload struct {
	Request *Request `json:"request,omitempty"`
	Error   string   `json:"error"`
}

// StatusPayload reports a connector status change.
type StatusPayload struct {
	Status ConnectorStatus `json:"status"`
}

// FrameVersion is the current frame protocol version.
const FrameVersion uint8 = 1
