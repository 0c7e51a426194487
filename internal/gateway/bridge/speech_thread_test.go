package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/speech/stt"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

type fakePushStream struct {
	mu     sync.Mutex
	events chan stt.Event
	writes [][]byte
	closed bool
}

func newFakePushStream() *fakePushStream {
	return &fakePushStream{events: make(chan stt.Event, 8)}
}

func (s *fakePushStream) Write(pcm16 []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, pcm16)
	return nil
}

func (s *fakePushStream) Events() <-chan stt.Event { return s.events }

func (s *fakePushStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

type fakeRecognizer struct {
	stream *fakePushStream
}

func (r *fakeRecognizer) TranscribeBatch(ctx context.Context, pcm16 []byte, sampleRate int) (string, error) {
	return "", nil
}
func (r *fakeRecognizer) Close() error              { return nil }
func (r *fakeRecognizer) Healthy(context.Context) bool { return true }
func (r *fakeRecognizer) NewPushStream(ctx context.Context) (stt.PushStream, error) {
	return r.stream, nil
}

func newTestThread(t *testing.T) (*SpeechThread, *fakePushStream, chan SpeechEvent) {
	t.Helper()
	stream := newFakePushStream()
	rec := &fakeRecognizer{stream: stream}
	queue := make(chan SpeechEvent, 8)
	br := New(Logger.New(true))
	return NewSpeechThread(uuid.New(), rec, br, queue, Logger.New(true)), stream, queue
}

func TestSpeechThreadLifecycle(t *testing.T) {
	thread, _, _ := newTestThread(t)
	ctx := context.Background()

	if thread.State() != StateConstructed {
		t.Fatalf("initial state: want %s, got %s", StateConstructed, thread.State())
	}
	if err := thread.PrepareThread(ctx); err != nil {
		t.Fatalf("PrepareThread: %v", err)
	}
	if thread.State() != StatePrepared {
		t.Fatalf("after prepare: want %s, got %s", StatePrepared, thread.State())
	}
	if err := thread.StartRecognizer(ctx); err != nil {
		t.Fatalf("StartRecognizer: %v", err)
	}
	if thread.State() != StateRunning {
		t.Fatalf("after start: want %s, got %s", StateRunning, thread.State())
	}
	if err := thread.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if thread.State() != StateStopped {
		t.Fatalf("after stop: want %s, got %s", StateStopped, thread.State())
	}
}

func TestSpeechThreadStartBeforePrepareIsNoop(t *testing.T) {
	thread, _, _ := newTestThread(t)
	if err := thread.StartRecognizer(context.Background()); err != nil {
		t.Fatalf("StartRecognizer before prepare: want nil error, got %v", err)
	}
	if thread.State() != StateConstructed {
		t.Fatalf("state should be unchanged, got %s", thread.State())
	}
}

func TestSpeechThreadWriteBeforePrepareIsNoop(t *testing.T) {
	thread, stream, _ := newTestThread(t)
	if err := thread.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write before prepare: want nil error, got %v", err)
	}
	if len(stream.writes) != 0 {
		t.Fatalf("want no writes reaching the stream, got %d", len(stream.writes))
	}
}

func TestSpeechThreadDrainsEventsOntoQueue(t *testing.T) {
	thread, stream, queue := newTestThread(t)
	ctx := context.Background()
	if err := thread.PrepareThread(ctx); err != nil {
		t.Fatalf("PrepareThread: %v", err)
	}

	stream.events <- stt.Event{Text: "hel", IsFinal: false, At: time.Now()}
	stream.events <- stt.Event{Text: "hello", IsFinal: true, At: time.Now()}

	var got []SpeechEvent
	for i := 0; i < 2; i++ {
		select {
		case ev := <-queue:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for drained event %d", i)
		}
	}
	if got[0].Type != EventPartial || got[0].Text != "hel" {
		t.Fatalf("event 0: unexpected %+v", got[0])
	}
	if got[1].Type != EventFinal || got[1].Text != "hello" {
		t.Fatalf("event 1: unexpected %+v", got[1])
	}
}

func TestSpeechThreadStopClosesStreamOnce(t *testing.T) {
	thread, stream, _ := newTestThread(t)
	ctx := context.Background()
	if err := thread.PrepareThread(ctx); err != nil {
		t.Fatalf("PrepareThread: %v", err)
	}
	if err := thread.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := thread.Stop(ctx); err != nil {
		t.Fatalf("second Stop: want nil (no-op), got %v", err)
	}
	stream.mu.Lock()
	closed := stream.closed
	stream.mu.Unlock()
	if !closed {
		t.Fatalf("want stream closed")
	}
}
