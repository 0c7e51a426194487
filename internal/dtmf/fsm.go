// Package dtmf implements the DTMF Validation Lifecycle (spec §4.9):
// telephony callers confirm identity by keying a PIN; the turn router
// stays gated (no LLM routing) until the gate opens. Grounded on the
// teacher's one-line looplab/fsm stub
// (internal/domains/sys_manager/runtime.UserRuntime) built out into a
// full machine, and on original_source's test_dtmf_validation* test
// vectors for the mismatch/cancellation behavior.
package dtmf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

const (
	StateIdle      = "idle"
	StatePending   = "pending"
	StateValidated = "validated"
	StateInvalid   = "invalid"
)

const (
	EventBeginEntry = "begin_entry"
	EventDigit      = "digit"
	EventMatch      = "match"
	EventMismatch   = "mismatch"
	EventReset      = "reset"
	EventCancel     = "cancel"
)

// Lifecycle tracks one session's DTMF validation progress. gate_open
// is derived, not stored, so it can never drift from the state
// machine's actual state.
type Lifecycle struct {
	mu         sync.Mutex
	machine    *fsm.FSM
	expected   string
	entered    string
	maxDigits  int
	attempts   int
	maxRetries int
	lastDigit  time.Time
}

// New builds a Lifecycle expecting exactly expectedPIN, allowing up to
// maxRetries mismatches before the gate locks into StateInvalid for
// good.
func New(expectedPIN string, maxRetries int) *Lifecycle {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	l := &Lifecycle{expected: expectedPIN, maxDigits: len(expectedPIN), maxRetries: maxRetries}
	l.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventBeginEntry, Src: []string{StateIdle, StateInvalid}, Dst: StatePending},
			{Name: EventDigit, Src: []string{StatePending}, Dst: StatePending},
			{Name: EventMatch, Src: []string{StatePending}, Dst: StateValidated},
			{Name: EventMismatch, Src: []string{StatePending}, Dst: StateInvalid},
			{Name: EventReset, Src: []string{StateInvalid}, Dst: StateIdle},
			{Name: EventCancel, Src: []string{StateIdle, StatePending}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
	return l
}

// GateOpen reports whether the turn router may forward turns to the
// LLM for this session.
func (l *Lifecycle) GateOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.Current() == StateValidated
}

// State returns the current DTMF state.
func (l *Lifecycle) State() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.machine.Current()
}

// BeginEntry starts (or restarts, after a reset) digit collection.
func (l *Lifecycle) BeginEntry(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.attempts >= l.maxRetries {
		return fmt.Errorf("dtmf retries exhausted (%d of %d used)", l.attempts, l.maxRetries)
	}
	l.entered = ""
	return l.machine.Event(ctx, EventBeginEntry)
}

// Digit appends one keypad digit. When maxDigits have been entered it
// compares against the expected PIN and transitions to Validated or
// Invalid accordingly. A mismatch leaves the machine in Invalid; digit
// collection restarts only when the caller invokes BeginEntry again.
func (l *Lifecycle) Digit(ctx context.Context, digit rune) (complete bool, matched bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.machine.Current() != StatePending {
		return false, false, fmt.Errorf("digit received outside pending state (current=%s)", l.machine.Current())
	}
	l.entered += string(digit)
	l.lastDigit = time.Now()
	if err := l.machine.Event(ctx, EventDigit); err != nil {
		return false, false, err
	}
	if len(l.entered) < l.maxDigits {
		return false, false, nil
	}

	if l.entered == l.expected {
		if err := l.machine.Event(ctx, EventMatch); err != nil {
			return true, false, err
		}
		return true, true, nil
	}

	l.attempts++
	if err := l.machine.Event(ctx, EventMismatch); err != nil {
		return true, false, err
	}
	// Per original_source's mismatch test vector: the gate stays
	// closed and nothing is published on a mismatch. Only a retry
	// (explicit BeginEntry) re-opens digit collection.
	return true, false, nil
}

// Cancel aborts digit collection, e.g. on caller disconnect mid-entry
// — the short-circuit cancellation path original_source's
// test_dtmf_validation_failure_cancellation exercises.
func (l *Lifecycle) Cancel(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.machine.Current() == StateValidated {
		return nil
	}
	return l.machine.Event(ctx, EventCancel)
}

// RetriesRemaining reports remaining mismatch attempts before the caller should
// be routed to a human/fallback path.
func (l *Lifecycle) RetriesRemaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.maxRetries - l.attempts
	if remaining < 0 {
		return 0
	}
	return remaining
}
