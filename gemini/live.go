package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"

	"google.golang.org/genai"

	"atlas-voice/voice"
)

const liveModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"

// Live implements voice.Transport on top of the Gemini Live API using the
// official SDK.
type Live struct {
	client *genai.Client
}

// NewClient creates the shared GenAI client.
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// NewLive wraps a client as a live transport. The transport itself is
// stateless; each Connect yields an independent connection.
func NewLive(client *genai.Client) *Live {
	return &Live{client: client}
}

// Connect opens a Live session configured for audio responses with the
// requested voice persona.
func (l *Live) Connect(ctx context.Context, cfg voice.ConnectConfig, h voice.Handlers) (voice.Conn, error) {
	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: cfg.SystemInstruction},
			},
		},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: string(cfg.Persona),
				},
			},
		},
	}

	session, err := l.client.Live.Connect(ctx, liveModel, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}
	log.Printf("connected to Gemini Live (%s, voice %s)", liveModel, cfg.Persona)

	c := &liveConn{session: session}
	if h.OnOpen != nil {
		h.OnOpen()
	}
	go c.receive(h)
	return c, nil
}

type liveConn struct {
	mu      sync.RWMutex
	session *genai.Session
	closed  bool
}

// Send forwards one outbound frame. The base64 payload is decoded back to
// raw bytes at this boundary; the SDK re-frames it for the wire.
func (c *liveConn) Send(f voice.Frame) error {
	c.mu.RLock()
	session := c.session
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return fmt.Errorf("live connection is closed")
	}

	data, err := base64.StdEncoding.DecodeString(f.MediaBase64)
	if err != nil {
		return fmt.Errorf("invalid base64 frame: %w", err)
	}
	if err := session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: f.MIMEType,
			Data:     data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (c *liveConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	session := c.session
	c.mu.Unlock()
	return session.Close()
}

// receive pumps server messages to the handlers until the connection
// ends. Receive blocks until a message arrives or an error occurs.
func (c *liveConn) receive(h voice.Handlers) {
	for {
		c.mu.RLock()
		session := c.session
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			if h.OnClose != nil {
				h.OnClose()
			}
			return
		}

		resp, err := session.Receive()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if closed {
				if h.OnClose != nil {
					h.OnClose()
				}
			} else if h.OnError != nil {
				h.OnError(err)
			}
			return
		}
		if msg, ok := translate(resp); ok && h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}
}

// translate maps an SDK server message onto the transport message shape.
func translate(resp *genai.LiveServerMessage) (voice.Message, bool) {
	var msg voice.Message
	sc := resp.ServerContent
	if sc == nil {
		return msg, false
	}

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				msg.AudioBase64 = base64.StdEncoding.EncodeToString(part.InlineData.Data)
				break
			}
		}
	}
	msg.Interrupted = sc.Interrupted
	msg.TurnComplete = sc.TurnComplete
	return msg, msg.AudioBase64 != "" || msg.Interrupted || msg.TurnComplete
}
