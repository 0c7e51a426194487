package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// Lifecycle states, grounded on the teacher's lone FSM usage
// (internal/domains/sys_manager/runtime.UserRuntime) but built out into
// a full machine per spec §4.8/§9's redesign note: a session's terminal
// transitions (disconnect, provider failure, forced close) are modeled
// as explicit state-machine transitions instead of raised exceptions
// unwound through the call stack.
const (
	StateInitializing = "initializing"
	StateActive       = "active"
	StateDraining     = "draining"
	StateClosed       = "closed"
	StateFailed       = "failed"
)

const (
	EventActivate = "activate"
	EventDrain    = "drain"
	EventClose    = "close"
	EventFail     = "fail"
)

// Session is the root per-call value. It owns the typed Context, the
// rolling Memory, and the lifecycle state machine; every other
// component (engine pool, turn router, bridge) is handed a *Session
// rather than reaching into global state.
type Session struct {
	Context *Context
	Memory  *Memory

	mu  sync.Mutex
	fsm *fsm.FSM

	// closeReason is set by Fail and surfaced to callers who need to
	// know why; a clean Close leaves it nil.
	closeReason error
}

// New builds a Session in StateInitializing.
func New(ctx *Context, historyWindow int) *Session {
	s := &Session{
		Context: ctx,
		Memory:  NewMemory(historyWindow),
	}
	s.fsm = fsm.NewFSM(
		StateInitializing,
		fsm.Events{
			{Name: EventActivate, Src: []string{StateInitializing}, Dst: StateActive},
			{Name: EventDrain, Src: []string{StateActive}, Dst: StateDraining},
			{Name: EventClose, Src: []string{StateInitializing, StateActive, StateDraining}, Dst: StateClosed},
			{Name: EventFail, Src: []string{StateInitializing, StateActive, StateDraining}, Dst: StateFailed},
		},
		fsm.Callbacks{},
	)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Current()
}

// Activate transitions Initializing -> Active once the session's engine
// slots are acquired; the transport handlers call it before any
// greeting is synthesized.
func (s *Session) Activate() error {
	return s.fire(EventActivate)
}

// Drain transitions Active -> Draining: no new turns are accepted but
// in-flight synthesis is allowed to finish.
func (s *Session) Drain() error {
	return s.fire(EventDrain)
}

// Close is a terminal transition for a clean disconnect.
func (s *Session) Close() error {
	return s.fire(EventClose)
}

// Fail is a terminal transition for an unrecoverable provider/transport
// error; reason is retained for diagnostics.
func (s *Session) Fail(reason error) error {
	s.mu.Lock()
	s.closeReason = reason
	s.mu.Unlock()
	return s.fire(EventFail)
}

// CloseReason returns the error that drove a Fail transition, if any.
func (s *Session) CloseReason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// IsTerminal reports whether the session has left Active/Draining for
// good.
func (s *Session) IsTerminal() bool {
	st := s.State()
	return st == StateClosed || st == StateFailed
}

func (s *Session) fire(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Event(context.Background(), event); err != nil {
		return fmt.Errorf("session %s: %w", s.Context.SessionID, err)
	}
	return nil
}
