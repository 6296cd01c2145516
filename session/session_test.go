package session

import (
	"context"
	"sync"
	"testing"

	"atlas-voice/messages"
	"atlas-voice/voice"
)

func newBareSession() *ClientSession {
	ctx, cancel := context.WithCancel(context.Background())
	cs := &ClientSession{
		ID:        "00000000-0000-0000-0000-000000000000",
		writeChan: make(chan *messages.ServerMessage, writeBufferSize),
		CloseChan: make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	cs.Voice = voice.NewManager(nil, nil, voice.NewStreamEngine(func([]byte) {}))
	return cs
}

func TestQueueMessage_ConcurrentWithClose(t *testing.T) {
	cs := newBareSession()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))
			}
		}()
	}

	// Close races the producers; a send must never hit a closed channel.
	if err := cs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	// After close, queueing is a silent no-op and Close stays idempotent.
	cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))
	if err := cs.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestQueueMessage_DropsWhenFull(t *testing.T) {
	cs := newBareSession()
	defer cs.Close()

	// No writePump draining: fill the queue past capacity.
	for i := 0; i < writeBufferSize+10; i++ {
		cs.queueMessage(messages.NewStatusMessage(cs.ID, messages.StatusPong, ""))
	}
	if got := len(cs.writeChan); got != writeBufferSize {
		t.Fatalf("queued = %d, want %d", got, writeBufferSize)
	}
}
