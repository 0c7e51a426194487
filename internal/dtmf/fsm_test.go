package dtmf

import (
	"context"
	"testing"
)

func TestLifecycleHappyPath(t *testing.T) {
	l := New("123", 3)
	ctx := context.Background()

	if l.GateOpen() {
		t.Fatal("gate should start closed")
	}
	if err := l.BeginEntry(ctx); err != nil {
		t.Fatalf("BeginEntry: %v", err)
	}

	for i, d := range "12" {
		complete, matched, err := l.Digit(ctx, d)
		if err != nil {
			t.Fatalf("Digit(%d): %v", i, err)
		}
		if complete {
			t.Fatalf("Digit(%d): expected incomplete, got complete", i)
		}
		if matched {
			t.Fatalf("Digit(%d): expected unmatched mid-entry", i)
		}
	}

	complete, matched, err := l.Digit(ctx, '3')
	if err != nil {
		t.Fatalf("final digit: %v", err)
	}
	if !complete || !matched {
		t.Fatalf("expected complete+matched, got complete=%v matched=%v", complete, matched)
	}
	if !l.GateOpen() {
		t.Fatal("gate should be open after a matching PIN")
	}
}

func TestLifecycleMismatchAllowsRetry(t *testing.T) {
	l := New("123", 3)
	ctx := context.Background()

	if err := l.BeginEntry(ctx); err != nil {
		t.Fatalf("BeginEntry: %v", err)
	}
	for _, d := range "999" {
		if _, _, err := l.Digit(ctx, d); err != nil {
			t.Fatalf("Digit: %v", err)
		}
	}
	if l.GateOpen() {
		t.Fatal("gate must stay closed after a mismatch")
	}
	if l.RetriesRemaining() != 2 {
		t.Fatalf("expected 2 retries remaining, got %d", l.RetriesRemaining())
	}

	if err := l.BeginEntry(ctx); err != nil {
		t.Fatalf("retry BeginEntry: %v", err)
	}
	for _, d := range "123" {
		if _, _, err := l.Digit(ctx, d); err != nil {
			t.Fatalf("Digit: %v", err)
		}
	}
	if !l.GateOpen() {
		t.Fatal("gate should open after a matching retry")
	}
}

func TestLifecycleRetriesExhausted(t *testing.T) {
	l := New("123", 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.BeginEntry(ctx); err != nil {
			t.Fatalf("BeginEntry %d: %v", i, err)
		}
		for _, d := range "999" {
			if _, _, err := l.Digit(ctx, d); err != nil {
				t.Fatalf("Digit: %v", err)
			}
		}
	}
	if l.RetriesRemaining() != 0 {
		t.Fatalf("expected 0 retries remaining, got %d", l.RetriesRemaining())
	}
	if l.GateOpen() {
		t.Fatal("gate must remain closed once retries are exhausted")
	}
}

func TestLifecycleCancelMidEntry(t *testing.T) {
	l := New("123", 3)
	ctx := context.Background()

	if err := l.BeginEntry(ctx); err != nil {
		t.Fatalf("BeginEntry: %v", err)
	}
	if _, _, err := l.Digit(ctx, '1'); err != nil {
		t.Fatalf("Digit: %v", err)
	}
	if err := l.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if l.State() != StateIdle {
		t.Fatalf("expected idle after cancel, got %s", l.State())
	}
}
