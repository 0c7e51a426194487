// Package shared holds the per-session orchestration state common to
// both transports the Media and Browser handlers own: the engine slots
// the handler acquired, the tracked background-task set barge-in/disconnect
// cancel, and the barge-in protocol itself (spec §4.7). Both handlers
// are, per spec §4.8, "structurally identical except" framing — this
// package is where that identical structure lives so media.go and
// browser.go stay thin, transport-only wrappers.
package shared

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/dtmf"
	"github.com/xpanvictor/voxgate/internal/enginepool"
	"github.com/xpanvictor/voxgate/internal/gateway/bridge"
	"github.com/xpanvictor/voxgate/internal/kvstore"
	"github.com/xpanvictor/voxgate/internal/session"
	"github.com/xpanvictor/voxgate/internal/speech/stt"
	"github.com/xpanvictor/voxgate/internal/speech/tts"
	"github.com/xpanvictor/voxgate/internal/turn"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// TaskSet tracks cancelable background goroutines for one session so
// barge-in (300 ms grace) and disconnect (1 s grace) can cancel every
// active orchestration task deterministically (spec §5).
type TaskSet struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]context.CancelFunc
	wg    sync.WaitGroup
}

func NewTaskSet() *TaskSet {
	return &TaskSet{tasks: make(map[uuid.UUID]context.CancelFunc)}
}

// Spawn registers a new tracked task and runs fn with a derived,
// cancelable context. The task removes itself from the set on exit.
func (t *TaskSet) Spawn(parent context.Context, fn func(ctx context.Context)) uuid.UUID {
	id := uuid.New()
	ctx, cancel := context.WithCancel(parent)

	t.mu.Lock()
	t.tasks[id] = cancel
	t.mu.Unlock()
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.tasks, id)
			t.mu.Unlock()
			cancel()
		}()
		fn(ctx)
	}()
	return id
}

// CancelAll cancels every tracked task and waits up to grace for them
// to exit; it never blocks past grace.
func (t *TaskSet) CancelAll(grace time.Duration) {
	t.mu.Lock()
	for _, cancel := range t.tasks {
		cancel()
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

// Runtime bundles one session's full orchestration wiring: lifecycle,
// acquired engine slots, the barge-in flags spec §4.7 names, and the
// shared collaborators (turn router, bridge, KV, DTMF).
type Runtime struct {
	Sess      *session.Session
	STTSlot   *enginepool.Slot[stt.RecognizerWithPushStream]
	TTSSlot   *enginepool.Slot[tts.Synthesizer]
	Thread    *bridge.SpeechThread
	Bridge    *bridge.Bridge
	Loop      *bridge.LoopHandle
	Queue     chan bridge.SpeechEvent
	KV        *kvstore.Client
	Router    *turn.Router
	DTMF      *dtmf.Lifecycle
	Logger    *Logger.Logger
	VoiceKey  string
	Tasks     *TaskSet
	GreetingN string

	mu                  sync.Mutex
	isSynthesizing      atomic.Bool
	audioPlaying        atomic.Bool
	ttsCancelRequested  atomic.Bool
	currentPlaybackStop chan struct{}
}

// NewRuntime builds the shared per-session state. Engine slots are
// acquired separately by the caller (step 3 of spec §4.8) since the
// timeout/close-code-1013 behavior differs only in how the socket is
// torn down, which the transport-specific handler owns.
func NewRuntime(sess *session.Session, b *bridge.Bridge, kv *kvstore.Client, router *turn.Router, logger *Logger.Logger, voiceKey string) *Runtime {
	return &Runtime{
		Sess:     sess,
		Bridge:   b,
		Loop:     bridge.NewLoopHandle(128),
		Queue:    make(chan bridge.SpeechEvent, 64),
		KV:       kv,
		Router:   router,
		Logger:   logger,
		VoiceKey: voiceKey,
		Tasks:    NewTaskSet(),
	}
}

// IsSynthesizing / IsAudioPlaying reflect the spec §4.7 flags a
// barge-in event tests.
func (r *Runtime) IsSynthesizing() bool { return r.isSynthesizing.Load() }
func (r *Runtime) IsAudioPlaying() bool { return r.audioPlaying.Load() }

// BeginPlayback marks synthesis/playback active and returns the
// cancel channel this playback watches; it replaces any prior
// playback's channel (spec's PlaybackTask: "one per TTS emission;
// replaced on barge-in").
func (r *Runtime) BeginPlayback() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isSynthesizing.Store(true)
	r.audioPlaying.Store(true)
	r.currentPlaybackStop = make(chan struct{})
	return r.currentPlaybackStop
}

// CurrentPlaybackStop returns the cancel channel the active playback
// (if any) watches, so an egress writer pacing frames between ticks
// can select on the same signal BargeIn closes. Outside an active
// playback it returns nil; a select on a nil channel simply never
// fires, which is the correct "nothing to cancel" behavior.
func (r *Runtime) CurrentPlaybackStop() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentPlaybackStop
}

// EndPlayback clears the synthesis/playback flags once a turn's audio
// has either fully drained or been cancelled.
func (r *Runtime) EndPlayback() {
	r.isSynthesizing.Store(false)
	r.audioPlaying.Store(false)
	r.ttsCancelRequested.Store(false)
}

// BargeIn executes the protocol in spec §4.7: triggered when a
// `partial` STT event arrives while synthesis or playback is active.
// uiEnvelope, which takes no arguments, is called last so the
// transport-specific handler can build and send its own cancel envelope.
func (r *Runtime) BargeIn(uiEnvelope func()) {
	if !r.IsSynthesizing() && !r.IsAudioPlaying() {
		return
	}

	r.mu.Lock()
	r.isSynthesizing.Store(false)
	r.audioPlaying.Store(false)
	r.ttsCancelRequested.Store(true)
	stop := r.currentPlaybackStop
	r.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}

	r.Tasks.CancelAll(300 * time.Millisecond)

	if uiEnvelope != nil {
		uiEnvelope()
	}
}
