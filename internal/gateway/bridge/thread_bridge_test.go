package bridge

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

func TestQueueSpeechResultDropsOldestPartialOnFull(t *testing.T) {
	b := New(Logger.New(true))
	queue := make(chan SpeechEvent, 1)
	sid := uuid.New()

	b.QueueSpeechResult(sid, queue, SpeechEvent{Type: EventPartial, Text: "first"})
	b.QueueSpeechResult(sid, queue, SpeechEvent{Type: EventPartial, Text: "second"})

	got := <-queue
	if got.Text != "second" {
		t.Fatalf("want the newest partial to survive, got %q", got.Text)
	}
}

func TestQueueSpeechResultNeverEvictsForFinal(t *testing.T) {
	b := New(Logger.New(true))
	queue := make(chan SpeechEvent, 1)
	sid := uuid.New()

	b.QueueSpeechResult(sid, queue, SpeechEvent{Type: EventPartial, Text: "partial"})
	b.QueueSpeechResult(sid, queue, SpeechEvent{Type: EventFinal, Text: "final"})

	got := <-queue
	if got.Text != "partial" {
		t.Fatalf("want the existing entry preserved when a final can't fit, got %q", got.Text)
	}
}

func TestScheduleRunsOnOwningLoop(t *testing.T) {
	b := New(Logger.New(true))
	loop := NewLoopHandle(4)
	sid := uuid.New()

	done := make(chan struct{})
	b.Schedule(sid, loop, func() { close(done) })

	select {
	case fn := <-loop.Tasks():
		fn()
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled task")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled closure never ran")
	}
}

func TestScheduleWithNilLoopDoesNotPanic(t *testing.T) {
	b := New(Logger.New(true))
	b.Schedule(uuid.New(), nil, func() { t.Fatal("should never run") })
}

func TestScheduleDiscardsWhenLoopFull(t *testing.T) {
	b := New(Logger.New(true))
	loop := NewLoopHandle(1)
	sid := uuid.New()

	b.Schedule(sid, loop, func() {})
	// Loop queue (capacity 1) is now full; this call must not block.
	done := make(chan struct{})
	go func() {
		b.Schedule(sid, loop, func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Schedule blocked instead of discarding when the loop queue was full")
	}
}
