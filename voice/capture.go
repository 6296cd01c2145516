package voice

import (
	"context"
	"errors"
	"sync"
)

// ErrCaptureFull is returned when a capture feed outruns the session and
// its bounded queue is full.
var ErrCaptureFull = errors.New("capture queue full")

// CaptureStream yields successive fixed-size blocks of mono float samples
// at InputSampleRate. The channel is closed when the stream is released.
type CaptureStream interface {
	Blocks() <-chan []float32
	Close() error
}

// CaptureProvider acquires the microphone (or an equivalent feed).
// Acquisition may suspend, e.g. on a permission prompt.
type CaptureProvider interface {
	Acquire(ctx context.Context) (CaptureStream, error)
}

// BlockChunker reassembles an arbitrary-sized PCM16 byte feed into
// fixed-size float blocks, preserving sample order.
type BlockChunker struct {
	size    int
	pending []float32
}

// NewBlockChunker creates a chunker emitting blocks of size samples.
func NewBlockChunker(size int) *BlockChunker {
	if size <= 0 {
		size = BlockSize
	}
	return &BlockChunker{size: size}
}

// Write appends PCM16 little-endian bytes and returns every complete block
// now available. Leftover samples stay pending for the next write.
func (c *BlockChunker) Write(pcm []byte) [][]float32 {
	c.pending = append(c.pending, PCM16ToFloat(pcm)...)

	var blocks [][]float32
	for len(c.pending) >= c.size {
		block := make([]float32, c.size)
		copy(block, c.pending[:c.size])
		c.pending = c.pending[c.size:]
		blocks = append(blocks, block)
	}
	return blocks
}

// Pending returns the number of samples waiting for a full block.
func (c *BlockChunker) Pending() int {
	return len(c.pending)
}

// ChanStream is a channel-backed CaptureStream fed by Push. It is the
// capture implementation used when audio arrives over a network feed
// instead of a local device.
type ChanStream struct {
	ch     chan []float32
	mu     sync.Mutex
	closed bool
}

// NewChanStream creates a stream buffering up to capacity blocks.
func NewChanStream(capacity int) *ChanStream {
	if capacity <= 0 {
		capacity = 32
	}
	return &ChanStream{ch: make(chan []float32, capacity)}
}

// Push enqueues one block. It returns ErrCaptureFull instead of blocking
// when the consumer has fallen behind, and nil silently after Close.
func (s *ChanStream) Push(block []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- block:
		return nil
	default:
		return ErrCaptureFull
	}
}

func (s *ChanStream) Blocks() <-chan []float32 {
	return s.ch
}

// Close releases the stream. Safe to call more than once.
func (s *ChanStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
