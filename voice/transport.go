package voice

import "context"

// Frame is one outbound unit of audio handed to the transport: a text-safe
// payload plus a MIME descriptor identifying the PCM format.
type Frame struct {
	MediaBase64 string
	MIMEType    string
}

// Message is one inbound event delivered by the transport. A message may
// carry synthesized audio, an interruption signal, or a turn boundary, in
// any combination.
type Message struct {
	AudioBase64  string
	Interrupted  bool
	TurnComplete bool
}

// Handlers receive transport events. All callbacks for one connection are
// invoked sequentially in arrival order.
type Handlers struct {
	OnOpen    func()
	OnMessage func(Message)
	OnError   func(error)
	OnClose   func()
}

// ConnectConfig is the fixed per-connection configuration. Response
// modality is always audio.
type ConnectConfig struct {
	Persona           Persona
	SystemInstruction string
}

// Conn is a live duplex connection to the model endpoint. Send is
// fire-and-forget; submission order matches call order.
type Conn interface {
	Send(Frame) error
	Close() error
}

// Transport opens live connections. Implementations deliver inbound
// traffic through the Handlers passed to Connect.
type Transport interface {
	Connect(ctx context.Context, cfg ConnectConfig, h Handlers) (Conn, error)
}
