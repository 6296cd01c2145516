package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeEngine is a playback engine with a manually advanced clock.
type fakeEngine struct {
	mu      sync.Mutex
	now     float64
	created []*fakeBuffer
	closed  bool
}

func (e *fakeEngine) Now() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *fakeEngine) setNow(t float64) {
	e.mu.Lock()
	e.now = t
	e.mu.Unlock()
}

func (e *fakeEngine) CreateBuffer(samples []float32) Buffer {
	b := &fakeBuffer{duration: SampleDuration(len(samples), OutputSampleRate)}
	e.mu.Lock()
	e.created = append(e.created, b)
	e.mu.Unlock()
	return b
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) buffers() []*fakeBuffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*fakeBuffer, len(e.created))
	copy(out, e.created)
	return out
}

type fakeBuffer struct {
	mu        sync.Mutex
	duration  float64
	start     float64
	scheduled bool
	stopped   bool
	onEnded   func()
}

func (b *fakeBuffer) Duration() float64 { return b.duration }

func (b *fakeBuffer) ScheduleAt(start float64, onEnded func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.scheduled = true
	b.start = start
	b.onEnded = onEnded
}

func (b *fakeBuffer) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

// finish simulates natural playback completion.
func (b *fakeBuffer) finish() {
	b.mu.Lock()
	cb := b.onEnded
	b.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type fakeConn struct {
	mu       sync.Mutex
	handlers Handlers
	frames   []Frame
	closed   bool
}

func (c *fakeConn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("conn closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) deliverAudio(seconds float64) {
	samples := make([]float32, int(seconds*OutputSampleRate))
	c.handlers.OnMessage(Message{AudioBase64: EncodeBlock(samples)})
}

type fakeTransport struct {
	mu      sync.Mutex
	conns   []*fakeConn
	connErr error
}

func (t *fakeTransport) Connect(_ context.Context, _ ConnectConfig, h Handlers) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connErr != nil {
		return nil, t.connErr
	}
	c := &fakeConn{handlers: h}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) connCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

type fakeCapture struct {
	mu       sync.Mutex
	stream   *ChanStream
	acquired int
	err      error
}

func (c *fakeCapture) Acquire(context.Context) (CaptureStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.acquired++
	return c.stream, nil
}

func newTestManager() (*Manager, *fakeTransport, *fakeCapture, *fakeEngine) {
	tr := &fakeTransport{}
	mic := &fakeCapture{stream: NewChanStream(64)}
	eng := &fakeEngine{}
	return NewManager(tr, mic, eng), tr, mic, eng
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestScheduler_BackToBackThenInterrupt(t *testing.T) {
	m, tr, _, eng := newTestManager()
	if err := m.Start(context.Background(), PersonaKore); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := tr.conn(0)

	// Two 0.5s buffers arriving back to back at engine time 0.
	conn.deliverAudio(0.5)
	conn.deliverAudio(0.5)

	bufs := eng.buffers()
	if len(bufs) != 2 {
		t.Fatalf("scheduled buffers = %d, want 2", len(bufs))
	}
	if bufs[0].start != 0 {
		t.Fatalf("first start = %v, want 0", bufs[0].start)
	}
	if bufs[1].start != 0.5 {
		t.Fatalf("second start = %v, want 0.5", bufs[1].start)
	}

	// Interruption stops everything and resets the cursor.
	conn.handlers.OnMessage(Message{Interrupted: true})
	for i, b := range bufs {
		if !b.stopped {
			t.Fatalf("buffer %d not stopped after interruption", i)
		}
	}
	m.mu.Lock()
	active := m.active
	size := len(active.sources)
	cursor := active.cursor
	m.mu.Unlock()
	if size != 0 {
		t.Fatalf("active set size = %d after interruption, want 0", size)
	}
	if cursor != 0 {
		t.Fatalf("cursor = %v after interruption, want 0", cursor)
	}

	// The next buffer starts at the engine's current time, not a stale
	// future time.
	eng.setNow(0.3)
	conn.deliverAudio(0.25)
	bufs = eng.buffers()
	if got := bufs[2].start; got != 0.3 {
		t.Fatalf("post-interrupt start = %v, want 0.3", got)
	}
}

func TestScheduler_NaturalCompletionReleasesSource(t *testing.T) {
	m, tr, _, eng := newTestManager()
	if err := m.Start(context.Background(), PersonaPuck); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.conn(0).deliverAudio(0.1)

	m.mu.Lock()
	before := len(m.active.sources)
	m.mu.Unlock()
	if before != 1 {
		t.Fatalf("tracked sources = %d, want 1", before)
	}

	eng.buffers()[0].finish()

	m.mu.Lock()
	after := len(m.active.sources)
	m.mu.Unlock()
	if after != 0 {
		t.Fatalf("tracked sources = %d after completion, want 0", after)
	}
}

func TestScheduler_MalformedFrameIsSkipped(t *testing.T) {
	m, tr, _, eng := newTestManager()
	if err := m.Start(context.Background(), PersonaPuck); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := tr.conn(0)

	conn.deliverAudio(0.5)
	conn.handlers.OnMessage(Message{AudioBase64: "not base64!!"})
	conn.deliverAudio(0.5)

	if m.State() != StateReady {
		t.Fatalf("state = %s after bad frame, want ready", m.State())
	}
	bufs := eng.buffers()
	if len(bufs) != 2 {
		t.Fatalf("scheduled buffers = %d, want 2", len(bufs))
	}
	// Cursor advanced only for the good frames.
	if bufs[1].start != 0.5 {
		t.Fatalf("second start = %v, want 0.5", bufs[1].start)
	}
}

func TestStart_ConnectFailureRevertsToIdle(t *testing.T) {
	m, tr, _, _ := newTestManager()
	tr.connErr = errors.New("handshake refused")

	if err := m.Start(context.Background(), PersonaPuck); err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s after failed connect, want idle", m.State())
	}
	// No retry happened.
	if tr.connCount() != 0 {
		t.Fatalf("connections = %d, want 0", tr.connCount())
	}
}

func TestStart_CaptureDenialRevertsToIdle(t *testing.T) {
	m, tr, mic, _ := newTestManager()
	mic.err = errors.New("permission denied")

	if err := m.Start(context.Background(), PersonaPuck); err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if m.State() != StateIdle {
		t.Fatalf("state = %s, want idle", m.State())
	}
	if tr.connCount() != 0 {
		t.Fatalf("connections opened = %d before capture, want 0", tr.connCount())
	}
}

func TestStop_Idempotent(t *testing.T) {
	m, tr, _, _ := newTestManager()
	if err := m.Start(context.Background(), PersonaZephyr); err != nil {
		t.Fatalf("Start: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := m.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
		if m.State() != StateIdle {
			t.Fatalf("state after Stop #%d = %s, want idle", i+1, m.State())
		}
	}
	if !tr.conn(0).isClosed() {
		t.Fatal("connection not closed by Stop")
	}

	// Stop with no session open at all is a no-op too.
	m2, _, _, _ := newTestManager()
	if err := m2.Stop(); err != nil {
		t.Fatalf("Stop on fresh manager: %v", err)
	}
}

func TestMute_DropsWithoutReplay(t *testing.T) {
	m, tr, mic, _ := newTestManager()
	if err := m.Start(context.Background(), PersonaPuck); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := tr.conn(0)
	block := make([]float32, BlockSize)

	if err := mic.stream.Push(block); err != nil {
		t.Fatalf("Push: %v", err)
	}
	waitFor(t, func() bool { return conn.frameCount() == 1 }, "first frame")

	m.SetMuted(true)
	for i := 0; i < 3; i++ {
		if err := mic.stream.Push(block); err != nil {
			t.Fatalf("Push while muted: %v", err)
		}
	}
	// Give the pump a chance to (wrongly) forward.
	time.Sleep(30 * time.Millisecond)
	if got := conn.frameCount(); got != 1 {
		t.Fatalf("frames while muted = %d, want 1", got)
	}

	// Unmuting resumes with the next block only; nothing dropped earlier
	// is replayed.
	m.SetMuted(false)
	if err := mic.stream.Push(block); err != nil {
		t.Fatalf("Push after unmute: %v", err)
	}
	waitFor(t, func() bool { return conn.frameCount() == 2 }, "post-unmute frame")
	time.Sleep(20 * time.Millisecond)
	if got := conn.frameCount(); got != 2 {
		t.Fatalf("frames after unmute = %d, want 2", got)
	}
}

func TestSetVoice_FullReconnectIsolatesSessions(t *testing.T) {
	m, tr, mic, eng := newTestManager()
	if err := m.Start(context.Background(), PersonaPuck); err != nil {
		t.Fatalf("Start: %v", err)
	}
	old := tr.conn(0)
	old.deliverAudio(0.5)

	if err := m.SetVoice(context.Background(), PersonaKore); err != nil {
		t.Fatalf("SetVoice: %v", err)
	}
	if tr.connCount() != 2 {
		t.Fatalf("connections = %d, want 2", tr.connCount())
	}
	if !old.isClosed() {
		t.Fatal("old connection still open after voice change")
	}
	if got := m.Persona(); got != PersonaKore {
		t.Fatalf("persona = %s, want Kore", got)
	}
	// Capture stream is reused, not re-acquired.
	mic.mu.Lock()
	acquired := mic.acquired
	mic.mu.Unlock()
	if acquired != 1 {
		t.Fatalf("capture acquired %d times, want 1", acquired)
	}

	// A stale frame from the old connection must not reach the new
	// session's tracking set.
	created := len(eng.buffers())
	old.deliverAudio(0.5)
	if got := len(eng.buffers()); got != created {
		t.Fatalf("stale frame scheduled a buffer (%d -> %d)", created, got)
	}
	m.mu.Lock()
	size := len(m.active.sources)
	m.mu.Unlock()
	if size != 0 {
		t.Fatalf("new session tracking set = %d, want 0", size)
	}
}

func TestStart_WhileStartInFlight(t *testing.T) {
	tr := &blockingTransport{release: make(chan struct{})}
	mic := &fakeCapture{stream: NewChanStream(8)}
	m := NewManager(tr, mic, &fakeEngine{})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start(context.Background(), PersonaPuck) }()
	waitFor(t, func() bool { return m.State() == StateConnecting }, "connecting state")

	if err := m.Start(context.Background(), PersonaKore); !errors.Is(err, ErrStartInFlight) {
		t.Fatalf("second Start = %v, want ErrStartInFlight", err)
	}

	close(tr.release)
	if err := <-errCh; err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if m.State() != StateReady {
		t.Fatalf("state = %s, want ready", m.State())
	}
}

func TestStop_DuringInFlightStartDiscardsConnection(t *testing.T) {
	tr := &blockingTransport{release: make(chan struct{})}
	mic := &fakeCapture{stream: NewChanStream(8)}
	m := NewManager(tr, mic, &fakeEngine{})

	errCh := make(chan error, 1)
	go func() { errCh <- m.Start(context.Background(), PersonaPuck) }()
	waitFor(t, func() bool { return m.State() == StateConnecting }, "connecting state")

	// Stop cancels the start; the connect completing afterwards must not
	// resurrect the session.
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state after Stop = %s, want idle", m.State())
	}

	close(tr.release)
	if err := <-errCh; !errors.Is(err, ErrStartSuperseded) {
		t.Fatalf("Start after Stop = %v, want ErrStartSuperseded", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("state after stale connect = %s, want idle", m.State())
	}
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil {
		t.Fatal("stale connection installed after Stop")
	}
	if !tr.conn(0).isClosed() {
		t.Fatal("late connection not closed")
	}

	// A fresh Start works again.
	normal := &fakeTransport{}
	m2 := NewManager(normal, &fakeCapture{stream: NewChanStream(8)}, &fakeEngine{})
	if err := m2.Start(context.Background(), PersonaPuck); err != nil {
		t.Fatalf("fresh Start: %v", err)
	}
	if m2.State() != StateReady {
		t.Fatalf("fresh state = %s, want ready", m2.State())
	}
}

func TestScheduler_InterruptCancelsSameMessageAudio(t *testing.T) {
	m, tr, _, eng := newTestManager()
	if err := m.Start(context.Background(), PersonaPuck); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := tr.conn(0)

	// One message carrying both audio and the interruption flag: the
	// audio is scheduled, then cancelled with everything else.
	samples := make([]float32, OutputSampleRate/2)
	conn.handlers.OnMessage(Message{AudioBase64: EncodeBlock(samples), Interrupted: true})

	bufs := eng.buffers()
	if len(bufs) != 1 {
		t.Fatalf("scheduled buffers = %d, want 1", len(bufs))
	}
	if !bufs[0].stopped {
		t.Fatal("same-message audio not stopped by interruption")
	}
	m.mu.Lock()
	size := len(m.active.sources)
	cursor := m.active.cursor
	m.mu.Unlock()
	if size != 0 {
		t.Fatalf("active set size = %d, want 0", size)
	}
	if cursor != 0 {
		t.Fatalf("cursor = %v, want 0", cursor)
	}
}

func TestTransportError_SurfacedOnceNoRetry(t *testing.T) {
	m, tr, _, _ := newTestManager()
	var (
		mu   sync.Mutex
		errs []error
	)
	m.OnError = func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	if err := m.Start(context.Background(), PersonaPuck); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := tr.conn(0)

	conn.handlers.OnError(fmt.Errorf("stream reset"))
	if m.State() != StateIdle {
		t.Fatalf("state = %s after mid-stream error, want idle", m.State())
	}
	if tr.connCount() != 1 {
		t.Fatalf("connections = %d, want 1 (no automatic retry)", tr.connCount())
	}
	mu.Lock()
	n := len(errs)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("error surfaced %d times, want 1", n)
	}

	// A second report from the same dead connection is discarded.
	conn.handlers.OnError(fmt.Errorf("stream reset again"))
	mu.Lock()
	n = len(errs)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("stale error not discarded, surfaced %d times", n)
	}
}

// blockingTransport parks Connect until released, to exercise
// interleavings with a start still in flight.
type blockingTransport struct {
	release chan struct{}
	mu      sync.Mutex
	conns   []*fakeConn
}

func (t *blockingTransport) Connect(_ context.Context, _ ConnectConfig, h Handlers) (Conn, error) {
	<-t.release
	c := &fakeConn{handlers: h}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c, nil
}

func (t *blockingTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}
