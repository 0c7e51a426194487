// Package apperr defines the gateway's error taxonomy. Every error that
// crosses a component boundary (engine pool, connection manager, turn
// router, speech adapters) is classified into one of these kinds so
// callers can decide retry/terminate/notify-client behavior without
// string-matching error messages.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for recovery-policy decisions.
type Kind string

const (
	// KindCapacity signals the engine pool could not grant a slot
	// within its acquisition deadline.
	KindCapacity Kind = "capacity"
	// KindTransport signals a websocket/media-channel read or write
	// failure.
	KindTransport Kind = "transport"
	// KindProvider signals a downstream STT/TTS/LLM provider failure.
	KindProvider Kind = "provider"
	// KindProtocol signals a malformed or out-of-sequence message on
	// an external interface.
	KindProtocol Kind = "protocol"
	// KindState signals an operation attempted against a session or
	// DTMF state machine in an incompatible state.
	KindState Kind = "state"
	// KindAuth signals the external auth collaborator rejected a
	// session's credentials.
	KindAuth Kind = "auth"
)

// Error wraps an underlying cause with a Kind and the component that
// raised it.
type Error struct {
	Kind      Kind
	Component string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s[%s]: %v", e.Component, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, component string, err error) *Error {
	return &Error{Kind: kind, Component: component, Err: err}
}

// Capacity builds a KindCapacity error.
func Capacity(component string, err error) *Error { return New(KindCapacity, component, err) }

// Transport builds a KindTransport error.
func Transport(component string, err error) *Error { return New(KindTransport, component, err) }

// Provider builds a KindProvider error.
func Provider(component string, err error) *Error { return New(KindProvider, component, err) }

// Protocol builds a KindProtocol error.
func Protocol(component string, err error) *Error { return New(KindProtocol, component, err) }

// State builds a KindState error.
func State(component string, err error) *Error { return New(KindState, component, err) }

// Auth builds a KindAuth error.
func Auth(component string, err error) *Error { return New(KindAuth, component, err) }

// KindOf extracts the Kind from err, if it (or something it wraps) is an
// *Error. ok is false for plain errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
