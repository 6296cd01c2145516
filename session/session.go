package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"atlas-voice/config"
	"atlas-voice/messages"
	"atlas-voice/voice"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	writeBufferSize = 256
	writeTimeout    = 10 * time.Second
)

// ClientSession represents a single user's connection
type ClientSession struct {
	ID           string
	ClientConn   *websocket.Conn
	Voice        *voice.Manager
	CreatedAt    time.Time
	LastActivity time.Time

	capture      *wsCapture
	defaultVoice voice.Persona
	keepAlive    time.Duration

	// Use channels for non-blocking writes
	writeChan chan *messages.ServerMessage

	mu        sync.RWMutex
	closed    bool
	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClientSession creates a session bound to a live transport. The voice
// manager stays idle until the client sends a "start" control.
func NewClientSession(id string, clientConn *websocket.Conn, transport voice.Transport, cfg *config.Config) *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())

	// Configure WebSocket for better performance
	clientConn.SetReadLimit(512 * 1024) // 512KB max message
	clientConn.EnableWriteCompression(true)
	clientConn.SetCompressionLevel(6)

	keepAlive := cfg.KeepAlivePeriod
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	cs := &ClientSession{
		ID:           id,
		ClientConn:   clientConn,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		capture:      newWSCapture(cfg.MaxBufferSize),
		defaultVoice: cfg.DefaultVoice,
		keepAlive:    keepAlive,
		writeChan:    make(chan *messages.ServerMessage, writeBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	engine := voice.NewStreamEngine(func(pcm []byte) {
		cs.queueMessage(messages.NewAudioMessage(cs.ID, base64.StdEncoding.EncodeToString(pcm)))
	})
	cs.Voice = voice.NewManager(transport, cs.capture, engine)
	cs.setupVoiceCallbacks()

	return cs
}

// Start begins the bidirectional message handling
func (cs *ClientSession) Start() {
	go cs.writePump()
	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusConnected, "Session established"))
	go cs.handleClientMessages()
}

// setupVoiceCallbacks forwards voice lifecycle events to the client
func (cs *ClientSession) setupVoiceCallbacks() {
	cs.Voice.OnState = func(s voice.State) {
		cs.queueMessage(messages.NewStatusMessage(cs.ID, string(s), ""))
	}

	cs.Voice.OnTurnComplete = func() {
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusTurnComplete, ""))
	}

	cs.Voice.OnInterrupted = func() {
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusInterrupted, ""))
	}

	cs.Voice.OnError = func(err error) {
		log.Printf("❌ [%s] Live session error: %v", cs.ID[:8], err)
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeLiveError, err.Error()))
	}
}

// writePump handles all outgoing messages in a single goroutine
func (cs *ClientSession) writePump() {
	ticker := time.NewTicker(cs.keepAlive)
	defer func() {
		ticker.Stop()
		// Send close message before exiting
		cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
		cs.ClientConn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}()

	for {
		select {
		case <-cs.CloseChan:
			return
		case <-ticker.C:
			cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cs.ClientConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-cs.writeChan:
			if !ok {
				// Channel closed, exit gracefully
				return
			}

			if err := cs.writeMessage(msg); err != nil {
				return
			}

			n := len(cs.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg, ok := <-cs.writeChan:
					if !ok {
						return
					}
					if err := cs.writeMessage(msg); err != nil {
						return
					}
				default:
					// No more messages, continue outer loop
				}
			}
		}
	}
}

func (cs *ClientSession) writeMessage(msg *messages.ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	cs.ClientConn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return cs.ClientConn.WriteMessage(websocket.TextMessage, data)
}

// queueMessage adds a message to the write queue (non-blocking). The read
// lock is held across the send so Close cannot close writeChan underneath
// a delivery in progress.
func (cs *ClientSession) queueMessage(msg *messages.ServerMessage) {
	cs.mu.RLock()
	if cs.closed {
		cs.mu.RUnlock()
		return
	}
	delivered := false
	select {
	case cs.writeChan <- msg:
		delivered = true
	default:
		// Queue full, drop message (shouldn't happen with proper sizing)
	}
	cs.mu.RUnlock()

	if delivered {
		cs.mu.Lock()
		cs.LastActivity = time.Now()
		cs.mu.Unlock()
	}
}

// Close terminates the session and cleans up resources
func (cs *ClientSession) Close() error {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return nil
	}
	cs.closed = true

	// Close the write channel under the lock; queueMessage holds the read
	// side across its send, so no delivery can race this close.
	close(cs.writeChan)

	// Signal close (for other goroutines waiting on this)
	close(cs.CloseChan)
	cs.mu.Unlock()

	cs.cancel()

	// Tear down the live session, pending playback and capture
	cs.Voice.Close()

	// Close client connection - don't write close message as writePump is stopped
	if cs.ClientConn != nil {
		cs.ClientConn.Close()
	}

	return nil
}

func (cs *ClientSession) handleClientMessages() {
	defer cs.Close()

	for {
		select {
		case <-cs.CloseChan:
			return
		default:
			messageType, message, err := cs.ClientConn.ReadMessage()
			if err != nil {
				return
			}

			cs.mu.Lock()
			cs.LastActivity = time.Now()
			cs.mu.Unlock()

			// Handle binary messages (raw PCM16 audio at 16kHz)
			if messageType == websocket.BinaryMessage {
				cs.feedAudio(message)
				continue
			}

			// Handle text messages (JSON)
			var clientMsg messages.ClientMessage
			if err := sonic.Unmarshal(message, &clientMsg); err != nil {
				cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid message format"))
				continue
			}

			cs.processClientMessage(&clientMsg)
		}
	}
}

func (cs *ClientSession) processClientMessage(msg *messages.ClientMessage) {
	switch msg.Type {
	case "audio":
		var payload messages.AudioPayload
		if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid audio payload"))
			return
		}
		audioBytes, err := base64.StdEncoding.DecodeString(payload.Data)
		if err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid base64 audio data"))
			return
		}
		cs.feedAudio(audioBytes)

	case "control":
		var payload messages.ControlPayload
		if err := sonic.Unmarshal(msg.Payload, &payload); err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Invalid control payload"))
			return
		}
		cs.handleControlMessage(&payload)

	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown message type: "+msg.Type))
	}
}

// feedAudio pushes captured PCM into the outbound pipeline. Audio arriving
// while no live session is running is dropped by the pipeline itself.
func (cs *ClientSession) feedAudio(pcm []byte) {
	if err := cs.capture.Feed(pcm); err != nil {
		if errors.Is(err, voice.ErrCaptureFull) {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeBufferFull,
				fmt.Sprintf("Audio buffer full (max %d bytes)", cs.capture.MaxSize())))
			return
		}
		log.Printf("⚠️ [%s] Failed to buffer client audio: %v", cs.ID[:8], err)
	}
}

func (cs *ClientSession) handleControlMessage(payload *messages.ControlPayload) {
	switch payload.Action {
	case messages.ActionStart:
		persona := cs.defaultVoice
		if payload.Voice != "" {
			p, err := voice.ParsePersona(payload.Voice)
			if err != nil {
				cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()))
				return
			}
			persona = p
		}
		// Connecting can take a moment, keep reading audio meanwhile
		go func() {
			if err := cs.Voice.Start(cs.ctx, persona); err != nil {
				log.Printf("❌ [%s] Failed to start live session: %v", cs.ID[:8], err)
				cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, err.Error()))
			}
		}()

	case messages.ActionStop:
		cs.Voice.Stop()

	case messages.ActionSetVoice:
		p, err := voice.ParsePersona(payload.Voice)
		if err != nil {
			cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, err.Error()))
			return
		}
		go func() {
			if err := cs.Voice.SetVoice(cs.ctx, p); err != nil {
				log.Printf("❌ [%s] Failed to switch voice: %v", cs.ID[:8], err)
				cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeSessionFailed, err.Error()))
			}
		}()

	case messages.ActionMute:
		cs.Voice.SetMuted(true)

	case messages.ActionUnmute:
		cs.Voice.SetMuted(false)

	case messages.ActionPing:
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))

	default:
		cs.queueMessage(messages.NewErrorMessage(cs.ID, messages.ErrCodeInvalidMessage, "Unknown control action: "+payload.Action))
	}
}

// IsClosed returns whether the session is closed
func (cs *ClientSession) IsClosed() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.closed
}
