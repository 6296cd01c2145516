package session

import (
	"context"
	"sync"

	"atlas-voice/voice"
)

// wsCapture adapts audio bytes read off the client WebSocket into the
// block stream the voice pipeline consumes. It carries a bounded queue;
// a client that outruns the live session gets a buffer-full error rather
// than unbounded memory growth.
type wsCapture struct {
	maxBytes int

	mu      sync.Mutex
	chunker *voice.BlockChunker
	stream  *voice.ChanStream
}

func newWSCapture(maxBytes int) *wsCapture {
	return &wsCapture{
		maxBytes: maxBytes,
		chunker:  voice.NewBlockChunker(voice.BlockSize),
	}
}

// Acquire opens a fresh block stream. Called by the voice manager when a
// session starts; the previous stream, if any, was already released.
func (c *wsCapture) Acquire(ctx context.Context) (voice.CaptureStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	capacity := c.maxBytes / (voice.BlockSize * 2) // PCM16 is 2 bytes per sample
	c.chunker = voice.NewBlockChunker(voice.BlockSize)
	c.stream = voice.NewChanStream(capacity)
	return c.stream, nil
}

// Feed appends raw PCM16 bytes from the client. Complete blocks are pushed
// downstream; audio arriving while no stream is open is silently dropped.
func (c *wsCapture) Feed(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}
	for _, block := range c.chunker.Write(pcm) {
		if err := c.stream.Push(block); err != nil {
			return err
		}
	}
	return nil
}

// MaxSize returns the queue bound in bytes
func (c *wsCapture) MaxSize() int {
	return c.maxBytes
}
