package messages

import "atlas-voice/voice"

// Error codes
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeLiveError      = "LIVE_ERROR"
	ErrCodeSessionFailed  = "SESSION_FAILED"
	ErrCodeBufferFull     = "BUFFER_FULL"
)

// Message types
const (
	TypeAudio  = "audio"
	TypeStatus = "status"
	TypeError  = "error"
)

// Status values
const (
	StatusConnected    = "connected"
	StatusConnecting   = "connecting"
	StatusReady        = "ready"
	StatusIdle         = "idle"
	StatusTurnComplete = "turn_complete"
	StatusInterrupted  = "interrupted"
	StatusPong         = "pong"
)

// ServerMessage represents a message sent to the frontend client
type ServerMessage struct {
	Type      string      `json:"type"` // "audio", "status", "error"
	SessionID string      `json:"sessionId,omitempty"`
	Payload   interface{} `json:"payload"`
}

// AudioResponsePayload contains synthesized audio for the client
type AudioResponsePayload struct {
	Data     string `json:"data"`     // Base64-encoded PCM audio
	MimeType string `json:"mimeType"` // "audio/pcm;rate=24000"
}

// StatusPayload contains session status updates
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload contains error information
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAudioMessage creates an audio response message
func NewAudioMessage(sessionID, data string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeAudio,
		SessionID: sessionID,
		Payload: AudioResponsePayload{
			Data:     data,
			MimeType: voice.OutputMIMEType,
		},
	}
}

// NewStatusMessage creates a status message
func NewStatusMessage(sessionID, status, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeStatus,
		SessionID: sessionID,
		Payload: StatusPayload{
			Status:  status,
			Message: message,
		},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(sessionID, code, message string) *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		SessionID: sessionID,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}
