package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// State of the session lifecycle. Transitions: idle -> connecting -> ready
// -> idle. A failed connect goes straight back to idle; there is no
// reconnecting state, a reconnect is always stop-then-start.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateReady      State = "ready"
)

var (
	// ErrStartInFlight is returned when Start is called while another
	// Start has not finished connecting.
	ErrStartInFlight = errors.New("session start already in flight")
	// ErrStartSuperseded is returned when a Stop arrived while Start was
	// still connecting; the late connection is discarded, not installed.
	ErrStartSuperseded = errors.New("session start superseded by stop")
	// ErrManagerClosed is returned after the manager has been torn down.
	ErrManagerClosed = errors.New("voice manager closed")
)

// Manager owns the full lifecycle of one realtime voice conversation:
// capture, outbound framing, connection, inbound playback scheduling,
// interruption, and teardown. At most one connection is live at a time;
// starting a new session fully supersedes the previous one.
type Manager struct {
	transport Transport
	capture   CaptureProvider
	engine    Engine

	// Optional observers, wired once before the first Start.
	OnState        func(State)
	OnTurnComplete func()
	OnInterrupted  func()
	OnError        func(error)

	mu       sync.Mutex
	state    State
	starting bool
	muted    bool
	closed   bool
	epoch    uint64
	stream   CaptureStream
	active   *liveSession
}

// liveSession is one connection epoch. Callbacks tag their work with the
// epoch they belong to and results arriving after the epoch has been
// superseded are discarded.
type liveSession struct {
	owner   *Manager
	conn    Conn
	persona Persona

	// Guarded by owner.mu.
	cursor  float64
	sources map[Buffer]struct{}
}

// NewManager creates an idle manager. The capture stream is acquired
// lazily on the first Start and reused across voice-change reconnects.
func NewManager(transport Transport, capture CaptureProvider, engine Engine) *Manager {
	return &Manager{
		transport: transport,
		capture:   capture,
		engine:    engine,
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Persona returns the voice of the active session, or "" when idle.
func (m *Manager) Persona() Persona {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.persona
}

// Muted reports whether outbound frames are being dropped.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// SetMuted toggles outbound frame forwarding without touching the
// connection. Blocks captured while muted are discarded, not queued.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

// Start opens a session with the given persona, superseding any previous
// one. On failure the state reverts to idle and the error is returned;
// there is no automatic retry.
func (m *Manager) Start(ctx context.Context, persona Persona) error {
	if !persona.Valid() {
		return fmt.Errorf("unknown voice persona %q", persona)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.starting {
		m.mu.Unlock()
		return ErrStartInFlight
	}
	m.starting = true
	epoch := m.epoch
	prev := m.active
	m.active = nil
	if prev != nil {
		prev.stopPlaybackLocked()
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	if prev != nil {
		_ = prev.conn.Close()
	}

	if _, err := m.ensureStream(ctx, epoch); err != nil {
		m.failStart()
		return fmt.Errorf("acquire capture stream: %w", err)
	}

	ls := &liveSession{owner: m, persona: persona, sources: make(map[Buffer]struct{})}
	conn, err := m.transport.Connect(ctx, ConnectConfig{
		Persona:           persona,
		SystemInstruction: LiveSystemInstruction,
	}, Handlers{
		OnMessage: ls.handleMessage,
		OnError:   ls.handleError,
		OnClose:   ls.handleClose,
	})
	if err != nil {
		m.failStart()
		return fmt.Errorf("connect live session: %w", err)
	}

	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		// Stop (or Close) ran while Connect was in flight. The session it
		// belonged to no longer exists, so the connection is discarded.
		superseded := !m.closed
		m.starting = false
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		_ = conn.Close()
		if superseded {
			return ErrStartSuperseded
		}
		return ErrManagerClosed
	}
	ls.conn = conn
	m.active = ls
	m.starting = false
	m.setStateLocked(StateReady)
	m.mu.Unlock()
	return nil
}

// Stop closes the connection, cancels pending playback and releases the
// capture stream. Idempotent: stopping an already-stopped session is a
// no-op.
func (m *Manager) Stop() error {
	m.closeSession(true)
	return nil
}

// SetVoice reconnects with a new persona. The protocol has no in-place
// reconfiguration, so this is a full stop-then-start; the capture stream
// is kept open to avoid re-acquiring the device.
func (m *Manager) SetVoice(ctx context.Context, persona Persona) error {
	if !persona.Valid() {
		return fmt.Errorf("unknown voice persona %q", persona)
	}
	m.closeSession(false)
	return m.Start(ctx, persona)
}

// Close is the final teardown: Stop plus releasing the output engine.
func (m *Manager) Close() error {
	m.closeSession(true)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.engine.Close()
}

// ensureStream acquires the capture stream once and starts the outbound
// pump that lives for the lifetime of the stream. epoch is the session
// generation the caller belongs to; a Stop interleaving with the acquire
// bumps it and the late stream is released instead of installed.
func (m *Manager) ensureStream(ctx context.Context, epoch uint64) (CaptureStream, error) {
	m.mu.Lock()
	if s := m.stream; s != nil {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := m.capture.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed || m.epoch != epoch {
		superseded := !m.closed
		m.mu.Unlock()
		_ = s.Close()
		if superseded {
			return nil, ErrStartSuperseded
		}
		return nil, ErrManagerClosed
	}
	m.stream = s
	m.mu.Unlock()

	go m.pump(s)
	return s, nil
}

// pump forwards captured blocks to the current connection in capture
// order. Muted blocks are dropped here so no transport call is made and
// nothing is replayed on unmute.
func (m *Manager) pump(stream CaptureStream) {
	for block := range stream.Blocks() {
		m.mu.Lock()
		ls := m.active
		muted := m.muted
		ready := m.state == StateReady
		m.mu.Unlock()

		if ls == nil || !ready || muted {
			continue
		}
		frame := Frame{MediaBase64: EncodeBlock(block), MIMEType: InputMIMEType}
		if err := ls.conn.Send(frame); err != nil {
			ls.handleError(fmt.Errorf("send audio frame: %w", err))
		}
	}
}

func (m *Manager) failStart() {
	m.mu.Lock()
	m.starting = false
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
}

// closeSession tears down the active connection and playback. When
// releaseStream is set the capture stream is closed too; a voice change
// keeps it open. Bumping the epoch invalidates any Start still in
// flight, so its late completion is discarded.
func (m *Manager) closeSession(releaseStream bool) {
	m.mu.Lock()
	m.epoch++
	ls := m.active
	m.active = nil
	if ls != nil {
		ls.stopPlaybackLocked()
	}
	var stream CaptureStream
	if releaseStream {
		stream = m.stream
		m.stream = nil
	}
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if ls != nil {
		_ = ls.conn.Close()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

// setStateLocked updates state and notifies the observer. Caller holds
// m.mu; the callback runs on its own goroutine so observers may call back
// into the manager.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.OnState != nil {
		go m.OnState(s)
	}
}

// current reports whether ls is still the active epoch.
func (ls *liveSession) current() bool {
	ls.owner.mu.Lock()
	defer ls.owner.mu.Unlock()
	return ls.owner.active == ls
}

func (ls *liveSession) handleMessage(msg Message) {
	m := ls.owner

	// Audio first: a message carrying both audio and an interruption has
	// its audio cancelled along with everything else already scheduled.
	if msg.AudioBase64 != "" {
		ls.scheduleAudio(msg.AudioBase64)
	}
	if msg.Interrupted {
		ls.interrupt()
	}
	if msg.TurnComplete && m.OnTurnComplete != nil && ls.current() {
		m.OnTurnComplete()
	}
}

func (ls *liveSession) scheduleAudio(encoded string) {
	m := ls.owner

	samples, err := DecodeAudio(encoded)
	if err != nil {
		// One bad frame is skipped; the cursor and pending buffers are
		// not affected.
		log.Printf("voice: dropping malformed audio frame: %v", err)
		return
	}

	m.mu.Lock()
	if m.active != ls {
		// Stale completion from a superseded session.
		m.mu.Unlock()
		return
	}
	buf := m.engine.CreateBuffer(samples)
	start := ls.cursor
	if now := m.engine.Now(); now > start {
		start = now
	}
	ls.sources[buf] = struct{}{}
	ls.cursor = start + buf.Duration()
	m.mu.Unlock()

	buf.ScheduleAt(start, func() {
		m.mu.Lock()
		delete(ls.sources, buf)
		m.mu.Unlock()
	})
}

// interrupt implements barge-in: stop everything scheduled and reset the
// cursor so the next buffer starts at the engine's current time.
func (ls *liveSession) interrupt() {
	m := ls.owner
	m.mu.Lock()
	if m.active != ls {
		m.mu.Unlock()
		return
	}
	ls.stopPlaybackLocked()
	cb := m.OnInterrupted
	m.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// stopPlaybackLocked force-stops every tracked source, clears the set and
// resets the cursor. Stopping an already-finished source is tolerated by
// the Buffer contract. Caller holds owner.mu.
func (ls *liveSession) stopPlaybackLocked() {
	for buf := range ls.sources {
		buf.Stop()
	}
	ls.sources = make(map[Buffer]struct{})
	ls.cursor = 0
}

func (ls *liveSession) handleError(err error) {
	m := ls.owner
	m.mu.Lock()
	if m.active != ls {
		m.mu.Unlock()
		return
	}
	m.active = nil
	ls.stopPlaybackLocked()
	m.setStateLocked(StateIdle)
	cb := m.OnError
	m.mu.Unlock()

	_ = ls.conn.Close()
	log.Printf("voice: session error: %v", err)
	if cb != nil {
		cb(err)
	}
}

func (ls *liveSession) handleClose() {
	m := ls.owner
	m.mu.Lock()
	if m.active != ls {
		m.mu.Unlock()
		return
	}
	m.active = nil
	ls.stopPlaybackLocked()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
}
