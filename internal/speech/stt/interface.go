// Package stt defines the capability interfaces the gateway recognizes
// engines through, replacing the teacher's reflective/duck-typed SDK
// lookups with explicit interfaces (spec §9 redesign note).
package stt

import (
	"context"
	"time"
)

// Event is a single recognition result emitted by a push-stream
// recognizer: a partial hypothesis (IsFinal=false) or a committed
// final transcript (IsFinal=true) closing one utterance.
type Event struct {
	Text    string
	IsFinal bool
	At      time.Time
}

// Recognizer is the minimal capability every STT engine adapter
// provides: batch transcription of a complete PCM16 buffer.
type Recognizer interface {
	TranscribeBatch(ctx context.Context, pcm16 []byte, sampleRate int) (string, error)
	Close() error
	Healthy(ctx context.Context) bool
}

// PushStream is a live, incremental recognition session fed by
// successive PCM16 chunks as audio arrives off the wire.
type PushStream interface {
	// Write feeds one chunk of little-endian PCM16 mono audio.
	Write(pcm16 []byte) error
	// Events delivers partial and final recognition results as they
	// become available. The channel is closed when the stream is
	// closed.
	Events() <-chan Event
	Close() error
}

// RecognizerWithPushStream is the capability a Speech Thread (spec
// §4.4) requires: engines that can open an incremental push-stream
// session alongside the plain batch Recognizer capability. Not every
// Recognizer implements this — a recognizer lacking it can still serve
// batch transcription (e.g. DTMF confirmation re-reads) but cannot
// back live barge-in-aware listening.
type RecognizerWithPushStream interface {
	Recognizer
	NewPushStream(ctx context.Context) (PushStream, error)
}
