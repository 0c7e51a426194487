// Package bridge implements the Thread Bridge and Speech Thread (spec
// §4.3, §4.4): the seam between STT SDK callbacks — which in this
// port are ordinary goroutines outside the session's single-writer
// discipline — and the per-session cooperative event queue a Media/
// Browser handler drains in its own goroutine. Grounded on the
// teacher's internal/domains/sys_manager/voice_stream_system.VSS,
// whose in/out channel pair and event-typed select loop is the same
// shape; this package generalizes it to a named, reusable bridge
// instead of one handler embedded in a single VSS struct.
package bridge

import (
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// SpeechEventType distinguishes the three STT outcomes the Turn
// Router and barge-in protocol react to.
type SpeechEventType string

const (
	EventPartial SpeechEventType = "partial"
	EventFinal   SpeechEventType = "final"
	EventCancel  SpeechEventType = "cancel"
)

// SpeechEvent is the typed payload carried on a session's event
// queue, corresponding to spec §3's SpeechEvent entity.
type SpeechEvent struct {
	Type      SpeechEventType
	Text      string
	Language  string
	SpeakerID string
	At        time.Time
}

// LoopHandle stands in for "the owning scheduler loop" the spec
// describes for cross-thread scheduling: a single-consumer task queue
// drained by the goroutine that owns a session (media/browser
// handler). Schedule is the only safe way for another goroutine
// (an STT callback, a timer) to run code against session state.
type LoopHandle struct {
	tasks chan func()
}

// NewLoopHandle builds a handle with the given task buffer size.
func NewLoopHandle(buffer int) *LoopHandle {
	if buffer <= 0 {
		buffer = 64
	}
	return &LoopHandle{tasks: make(chan func(), buffer)}
}

// Tasks exposes the channel for the owning goroutine's select loop.
func (h *LoopHandle) Tasks() <-chan func() {
	return h.tasks
}

// Bridge transports SpeechEvents from SDK callback goroutines into a
// session's cooperative queue and submits closures onto a session's
// LoopHandle. One Bridge instance is shared process-wide; callers
// pass the session-specific queue/handle on each call, mirroring the
// teacher's VSS pattern of per-session in/out channels without
// requiring a new Bridge per session.
type Bridge struct {
	logger *Logger.Logger
}

func New(logger *Logger.Logger) *Bridge {
	return &Bridge{logger: logger}
}

// QueueSpeechResult enqueues ev onto queue. Partial events are
// drop-tolerant: if the queue is full, the oldest entry is evicted to
// make room. Final events are preserved when capacity allows: if the
// queue is full, the new final event is dropped instead (never an
// existing entry), since a dropped final utterance would silently
// swallow a user's turn.
func (b *Bridge) QueueSpeechResult(sessionID uuid.UUID, queue chan SpeechEvent, ev SpeechEvent) {
	select {
	case queue <- ev:
		return
	default:
	}

	if ev.Type != EventPartial {
		b.logger.Warnw("speech event queue full, dropping new event", "session_id", sessionID, "type", ev.Type)
		return
	}

	select {
	case <-queue:
	default:
	}
	select {
	case queue <- ev:
	default:
		b.logger.Warnw("speech event queue full after eviction, dropping partial", "session_id", sessionID)
	}
}

// Schedule safely submits fn to the session's owning loop. If the
// loop's task channel has no room, it runs a last-resort fallback:
// log and discard, never blocking the calling SDK thread.
func (b *Bridge) Schedule(sessionID uuid.UUID, loop *LoopHandle, fn func()) {
	if loop == nil {
		b.logger.Warnw("schedule called with no owning loop", "session_id", sessionID)
		return
	}
	select {
	case loop.tasks <- fn:
	default:
		b.logger.Warnw("owning loop task queue full, discarding scheduled task", "session_id", sessionID)
	}
}
