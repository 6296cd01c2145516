package voice

import (
	"sync"
	"time"
)

// Engine is the clock-driven audio output graph. Time is in seconds on a
// monotonic clock owned by the engine.
type Engine interface {
	Now() float64
	CreateBuffer(samples []float32) Buffer
	Close() error
}

// Buffer is one decoded inbound buffer bound to a single scheduled
// playback source.
type Buffer interface {
	// Duration is the playback length in seconds.
	Duration() float64
	// ScheduleAt starts playback at the given engine time. onEnded fires
	// once after playback completes naturally; it does not fire after Stop.
	ScheduleAt(start float64, onEnded func())
	// Stop cancels playback. Stopping a finished or never-scheduled buffer
	// is a no-op.
	Stop()
}

// StreamEngine is a realtime Engine that emits PCM16 bytes to a sink at
// each buffer's scheduled start time. The sink is expected to play (or
// forward) the bytes immediately, so timeline pacing lives here and
// interruption can cancel buffers that have not been emitted yet.
type StreamEngine struct {
	emit  func(pcm []byte)
	epoch time.Time

	mu     sync.Mutex
	closed bool
}

// NewStreamEngine creates an engine whose clock starts at zero now.
func NewStreamEngine(emit func(pcm []byte)) *StreamEngine {
	return &StreamEngine{emit: emit, epoch: time.Now()}
}

func (e *StreamEngine) Now() float64 {
	return time.Since(e.epoch).Seconds()
}

func (e *StreamEngine) CreateBuffer(samples []float32) Buffer {
	return &streamBuffer{
		engine:   e,
		pcm:      FloatToPCM16(samples),
		duration: SampleDuration(len(samples), OutputSampleRate),
	}
}

// Close shuts the engine down; buffers scheduled afterwards are dropped.
func (e *StreamEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

type streamBuffer struct {
	engine   *StreamEngine
	pcm      []byte
	duration float64

	mu        sync.Mutex
	emitTimer *time.Timer
	endTimer  *time.Timer
	stopped   bool
}

func (b *streamBuffer) Duration() float64 {
	return b.duration
}

func (b *streamBuffer) ScheduleAt(start float64, onEnded func()) {
	delay := time.Duration((start - b.engine.Now()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}
	playLen := time.Duration(b.duration * float64(time.Second))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.emitTimer = time.AfterFunc(delay, func() {
		b.engine.mu.Lock()
		closed := b.engine.closed
		b.engine.mu.Unlock()

		b.mu.Lock()
		stopped := b.stopped
		b.mu.Unlock()
		if stopped || closed {
			return
		}
		b.engine.emit(b.pcm)
	})
	b.endTimer = time.AfterFunc(delay+playLen, func() {
		b.mu.Lock()
		stopped := b.stopped
		b.mu.Unlock()
		if stopped {
			return
		}
		if onEnded != nil {
			onEnded()
		}
	})
}

func (b *streamBuffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	if b.emitTimer != nil {
		b.emitTimer.Stop()
	}
	if b.endTimer != nil {
		b.endTimer.Stop()
	}
}
