package tts

import (
	"sync"

	"github.com/smallnest/ringbuffer"
)

// FrameBuffer is a fixed-capacity, non-blocking byte ring used to hold
// synthesized PCM frames between the per-flush synthesis goroutines
// and the egress writer pumping them onto the session's transport.
// Grounded on the teacher's pkg/io/stt/audioRing adapter over
// github.com/smallnest/ringbuffer, generalized here from audio *input*
// buffering to audio *output* (egress) buffering.
type FrameBuffer struct {
	mu  sync.Mutex
	rb  *ringbuffer.RingBuffer
	cap int
}

func NewFrameBuffer(capacityBytes int) *FrameBuffer {
	rb := ringbuffer.New(capacityBytes)
	rb.SetBlocking(false)
	return &FrameBuffer{rb: rb, cap: capacityBytes}
}

// Write enqueues a PCM frame, dropping the oldest bytes on overflow so
// a slow egress consumer never stalls the synthesis pipeline — the
// same drop-oldest policy the Thread Bridge uses for cross-thread
// events (spec §4.3).
func (f *FrameBuffer) Write(frame []byte) {
	if len(frame) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(frame) > f.cap {
		frame = frame[len(frame)-f.cap:]
	}
	for f.rb.Free() < len(frame) {
		discard := make([]byte, min(4096, f.rb.Length()))
		if len(discard) == 0 {
			break
		}
		f.rb.Read(discard)
	}
	_, _ = f.rb.Write(frame)
}

// Read drains up to len(p) bytes, returning 0 if the buffer is empty
// (non-blocking).
func (f *FrameBuffer) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rb.Read(p)
}

// Reset discards all buffered frames — used on barge-in cancellation
// so stale audio already queued for egress is never sent after the
// caller starts speaking.
func (f *FrameBuffer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rb.Reset()
}

func (f *FrameBuffer) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rb.Length()
}
