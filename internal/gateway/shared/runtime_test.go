package shared

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/session"
)

func newTestRuntime() *Runtime {
	ctx := &session.Context{SessionID: uuid.New(), Kind: session.KindBrowser, CreatedAt: time.Now()}
	sess := session.New(ctx, 10)
	return NewRuntime(sess, nil, nil, nil, nil, "")
}

func TestBargeInClearsFlagsAndCancelsTasks(t *testing.T) {
	rt := newTestRuntime()
	stop := rt.BeginPlayback()

	if !rt.IsSynthesizing() || !rt.IsAudioPlaying() {
		t.Fatal("expected playback flags set after BeginPlayback")
	}

	started := make(chan struct{})
	cancelled := make(chan struct{})
	rt.Tasks.Spawn(context.Background(), func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	<-started

	called := false
	start := time.Now()
	rt.BargeIn(func() { called = true })
	elapsed := time.Since(start)

	if elapsed > 300*time.Millisecond {
		t.Fatalf("BargeIn must complete within 300ms, took %s", elapsed)
	}
	if rt.IsSynthesizing() || rt.IsAudioPlaying() {
		t.Fatal("expected playback flags cleared after BargeIn")
	}
	if !called {
		t.Fatal("expected the UI envelope callback to run")
	}

	select {
	case <-stop:
	default:
		t.Fatal("expected the playback stop channel to be closed")
	}
	select {
	case <-cancelled:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected the background task to observe cancellation")
	}
}

func TestBargeInNoopWhenNotPlaying(t *testing.T) {
	rt := newTestRuntime()
	called := false
	rt.BargeIn(func() { called = true })
	if called {
		t.Fatal("BargeIn should be a no-op when nothing is synthesizing or playing")
	}
}

func TestEndPlaybackClearsCancelRequested(t *testing.T) {
	rt := newTestRuntime()
	rt.BeginPlayback()
	rt.BargeIn(func() {})
	rt.EndPlayback()
	if rt.ttsCancelRequested.Load() {
		t.Fatal("expected ttsCancelRequested cleared after EndPlayback, poisoning the next turn otherwise")
	}
}
