package messages

import "encoding/json"

// ClientMessage represents a message from the frontend client
type ClientMessage struct {
	Type    string          `json:"type"` // "audio", "control"
	Payload json.RawMessage `json:"payload"`
}

// AudioPayload contains captured audio from the client
type AudioPayload struct {
	Data string `json:"data"` // Base64-encoded PCM16 audio at 16kHz
}

// Control actions
const (
	ActionStart    = "start"
	ActionStop     = "stop"
	ActionSetVoice = "set_voice"
	ActionMute     = "mute"
	ActionUnmute   = "unmute"
	ActionPing     = "ping"
)

// ControlPayload contains session control commands
type ControlPayload struct {
	Action string `json:"action"`
	Voice  string `json:"voice,omitempty"` // for "start" and "set_voice"
}
