package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/xpanvictor/voxgate/internal/speech/stt"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

const (
	StateConstructed = "constructed"
	StatePrepared    = "prepared"
	StateRunning     = "running"
	StateStopped     = "stopped"
)

const (
	eventPrepare = "prepare"
	eventStart   = "start"
	eventStop    = "stop"
)

// SpeechThread hosts exactly one STT engine for one session (spec
// §4.4), wiring its push-stream events through a Bridge onto the
// session's cooperative queue. It replaces the teacher's VSS, which
// buffered raw audio and ran whisper batch transcription on a ticker;
// this version pushes audio directly into a push-capable recognizer
// and reacts to its event stream instead of polling.
type SpeechThread struct {
	sessionID uuid.UUID
	bridge    *Bridge
	logger    *Logger.Logger

	mu         sync.Mutex
	machine    *fsm.FSM
	recognizer stt.RecognizerWithPushStream
	stream     stt.PushStream
	queue      chan SpeechEvent
	drainDone  chan struct{}
}

// NewSpeechThread constructs a thread in the Constructed state. queue
// is the session's event queue the drained SpeechEvents are pushed
// onto via the Bridge.
func NewSpeechThread(sessionID uuid.UUID, recognizer stt.RecognizerWithPushStream, bridge *Bridge, queue chan SpeechEvent, logger *Logger.Logger) *SpeechThread {
	t := &SpeechThread{
		sessionID:  sessionID,
		recognizer: recognizer,
		bridge:     bridge,
		queue:      queue,
		logger:     logger,
	}
	t.machine = fsm.NewFSM(
		StateConstructed,
		fsm.Events{
			{Name: eventPrepare, Src: []string{StateConstructed}, Dst: StatePrepared},
			{Name: eventStart, Src: []string{StatePrepared}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StatePrepared, StateRunning}, Dst: StateStopped},
		},
		fsm.Callbacks{},
	)
	return t
}

func (t *SpeechThread) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.Current()
}

// PrepareThread wires the push stream and attaches the draining
// goroutine that bridges recognizer events onto the session queue.
// Per spec §4.4 this happens once, ahead of the first audio-metadata
// frame.
func (t *SpeechThread) PrepareThread(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.machine.Current() != StateConstructed {
		return fmt.Errorf("prepare_thread called from state %s", t.machine.Current())
	}

	stream, err := t.recognizer.NewPushStream(ctx)
	if err != nil {
		return fmt.Errorf("build push stream: %w", err)
	}
	t.stream = stream
	t.drainDone = make(chan struct{})

	go t.drain(stream)

	return t.machine.Event(ctx, eventPrepare)
}

func (t *SpeechThread) drain(stream stt.PushStream) {
	defer close(t.drainDone)
	for ev := range stream.Events() {
		t.bridge.QueueSpeechResult(t.sessionID, t.queue, SpeechEvent{
			Type: speechEventType(ev.IsFinal),
			Text: ev.Text,
			At:   ev.At,
		})
	}
}

func speechEventType(isFinal bool) SpeechEventType {
	if isFinal {
		return EventFinal
	}
	return EventPartial
}

// StartRecognizer transitions Prepared → Running. Per spec §4.4,
// calling this before PrepareThread is a no-op that logs and returns
// rather than erroring, since a late audio-metadata duplicate should
// never crash the session.
func (t *SpeechThread) StartRecognizer(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.machine.Current() != StatePrepared {
		t.logger.Warnw("start_recognizer called outside prepared state", "session_id", t.sessionID, "state", t.machine.Current())
		return nil
	}
	return t.machine.Event(ctx, eventStart)
}

// Write forwards one PCM16 chunk into the push stream. It is a no-op
// once the thread is stopped or before it has been prepared.
func (t *SpeechThread) Write(pcm16 []byte) error {
	t.mu.Lock()
	stream := t.stream
	state := t.machine.Current()
	t.mu.Unlock()

	if state == StateConstructed || state == StateStopped || stream == nil {
		return nil
	}
	return stream.Write(pcm16)
}

// Stop tears down the recognizer's push stream exactly once.
func (t *SpeechThread) Stop(ctx context.Context) error {
	t.mu.Lock()
	state := t.machine.Current()
	stream := t.stream
	t.mu.Unlock()

	if state != StatePrepared && state != StateRunning {
		return nil
	}

	var closeErr error
	if stream != nil {
		closeErr = stream.Close()
	}

	t.mu.Lock()
	err := t.machine.Event(ctx, eventStop)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return closeErr
}
