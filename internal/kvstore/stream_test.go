package kvstore

import (
	"context"
	"testing"
	"time"
)

func TestStreamAppendAndRead(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	s := c.Stream("call-123")
	ev := Event{Type: "dtmf_validation", SessionID: "call-123", Data: map[string]any{"validation_status": "completed"}, At: time.Now()}
	if err := s.Append(ctx, ev); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := s.Read(ctx, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Read: want 1 event, got %d", len(got))
	}
	if got[0].Type != "dtmf_validation" || got[0].SessionID != "call-123" {
		t.Fatalf("Read: unexpected event %+v", got[0])
	}
	if got[0].Data["validation_status"] != "completed" {
		t.Fatalf("Read: unexpected data %+v", got[0].Data)
	}
}

func TestStreamScopedPerSession(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	a := c.Stream("call-a")
	b := c.Stream("call-b")
	if err := a.Append(ctx, Event{Type: "x", SessionID: "call-a", At: time.Now()}); err != nil {
		t.Fatalf("Append a: %v", err)
	}

	gotB, err := b.Read(ctx, 10)
	if err != nil {
		t.Fatalf("Read b: %v", err)
	}
	if len(gotB) != 0 {
		t.Fatalf("Read b: want no events from a's stream, got %d", len(gotB))
	}
}

func TestStreamReadEmpty(t *testing.T) {
	c, _ := newTestClient(t)
	s := c.Stream("untouched")
	got, err := s.Read(context.Background(), 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read: want 0 events, got %d", len(got))
	}
}
