package turn

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/llm"
	"github.com/xpanvictor/voxgate/internal/session"
	"github.com/xpanvictor/voxgate/internal/speech/tts"
	"github.com/xpanvictor/voxgate/internal/tools"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

type fakeLLM struct {
	batches [][]llm.Delta
	block   bool
}

func (f *fakeLLM) Stream(ctx context.Context, input llm.Input, rc *llm.ResponseChannel) llm.Response {
	defer close(*rc)
	for _, b := range f.batches {
		select {
		case *rc <- b:
		case <-ctx.Done():
			return llm.Response{Error: ctx.Err()}
		}
	}
	if f.block {
		<-ctx.Done()
		return llm.Response{Error: ctx.Err()}
	}
	return llm.Response{Done: true}
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text, voiceKey string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("PCM:" + text)), nil
}
func (fakeSynth) Close() error                       { return nil }
func (fakeSynth) Healthy(ctx context.Context) bool { return true }

type recordingEmitter struct {
	streaming []string
	finals    []string
	toolStart []string
	toolEnd   []string
	audio     int
}

func (e *recordingEmitter) EmitAssistantStreaming(content string) { e.streaming = append(e.streaming, content) }
func (e *recordingEmitter) EmitAssistantFinal(content, speaker string) {
	e.finals = append(e.finals, content)
}
func (e *recordingEmitter) EmitToolStart(callID, name string) { e.toolStart = append(e.toolStart, name) }
func (e *recordingEmitter) EmitToolEnd(callID, name, status string, elapsedMs int64, result map[string]any) {
	e.toolEnd = append(e.toolEnd, name+":"+status)
}
func (e *recordingEmitter) EmitAudioFragment(audio []byte) {
	if len(audio) > 0 {
		e.audio++
	}
}
func (e *recordingEmitter) EmitTTSError(errText, text string) {}

func newTestSession() *session.Session {
	ctx := &session.Context{SessionID: uuid.New(), Kind: session.KindBrowser, CreatedAt: time.Now()}
	return session.New(ctx, 40)
}

func newTestRouter(llmStreamer Streamer) *Router {
	reg := tools.NewMemoryRegistry()
	exec := tools.NewExecutor()
	streamer := tts.NewStreamer(tts.DefaultConfig(), Logger.New(true))
	return New(llmStreamer, reg, exec, streamer, Logger.New(true), "be terse")
}

func TestRunTurnEmitsFinalAndAppendsMemory(t *testing.T) {
	sess := newTestSession()
	_ = sess.Activate()

	fl := &fakeLLM{batches: [][]llm.Delta{
		{{Content: "Hello "}},
		{{Content: "there."}},
	}}
	r := newTestRouter(fl)
	emit := &recordingEmitter{}

	if err := r.RunTurn(context.Background(), sess, "", "hi", emit, fakeSynth{}, nil); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if len(emit.finals) != 1 || emit.finals[0] != "Hello there." {
		t.Fatalf("want one final 'Hello there.', got %+v", emit.finals)
	}

	turns := sess.Memory.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("want 2 turns (user+assistant), got %d", len(turns))
	}
	if turns[0].Role != session.RoleUser || turns[0].Content != "hi" {
		t.Fatalf("unexpected user turn: %+v", turns[0])
	}
	if turns[1].Role != session.RoleAssistant || turns[1].Content != "Hello there." {
		t.Fatalf("unexpected assistant turn: %+v", turns[1])
	}
}

func TestRunTurnWithToolCallExecutesAndRecurses(t *testing.T) {
	sess := newTestSession()
	_ = sess.Activate()

	callSeq := 0
	reg := tools.NewMemoryRegistry()
	if err := reg.Register(tools.Tool{
		Spec:    tools.Spec{Name: "get_time", Description: "returns the time"},
		Version: "v1",
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			callSeq++
			return map[string]any{"time": "noon"}, nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fl := &fakeLLM{batches: [][]llm.Delta{
		{{ToolCalls: []llm.ToolCall{{Index: 0, ID: "call_1", ToolName: "get_time", ArgumentsFragment: "{}"}}}},
	}}
	streamer := tts.NewStreamer(tts.DefaultConfig(), Logger.New(true))
	followUp := &fakeLLM{batches: [][]llm.Delta{{{Content: "It's noon."}}}}
	r := New(&chainedLLM{calls: []Streamer{fl, followUp}}, reg, tools.NewExecutor(), streamer, Logger.New(true), "")
	emit := &recordingEmitter{}

	if err := r.RunTurn(context.Background(), sess, "", "what time is it", emit, fakeSynth{}, nil); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	if callSeq != 1 {
		t.Fatalf("want tool handler invoked once, got %d", callSeq)
	}
	if len(emit.toolStart) != 1 || emit.toolStart[0] != "get_time" {
		t.Fatalf("unexpected tool starts: %+v", emit.toolStart)
	}
	if len(emit.toolEnd) != 1 || emit.toolEnd[0] != "get_time:success" {
		t.Fatalf("unexpected tool ends: %+v", emit.toolEnd)
	}
	if len(emit.finals) != 1 || emit.finals[0] != "It's noon." {
		t.Fatalf("want follow-up final 'It's noon.', got %+v", emit.finals)
	}

	turns := sess.Memory.Snapshot()
	var sawTool bool
	for _, turn := range turns {
		if turn.Role == session.RoleTool {
			sawTool = true
		}
	}
	if !sawTool {
		t.Fatalf("want a tool-role turn appended to memory, got %+v", turns)
	}
}

// chainedLLM dispatches successive RunTurn-internal streamOnce calls to
// a different Streamer each time, modeling a provider that streams a
// tool call and then, on the recursive follow-up call, streams text.
type chainedLLM struct {
	calls []Streamer
	n     int
}

func (c *chainedLLM) Stream(ctx context.Context, input llm.Input, rc *llm.ResponseChannel) llm.Response {
	s := c.calls[c.n]
	if c.n < len(c.calls)-1 {
		c.n++
	}
	return s.Stream(ctx, input, rc)
}

func TestRunTurnCancellationDropsPartialText(t *testing.T) {
	sess := newTestSession()
	_ = sess.Activate()

	fl := &fakeLLM{batches: [][]llm.Delta{{{Content: "partial words"}}}, block: true}
	r := newTestRouter(fl)
	emit := &recordingEmitter{}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.RunTurn(ctx, sess, "", "hi", emit, fakeSynth{}, nil) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("want a cancellation error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunTurn did not return after cancellation")
	}

	turns := sess.Memory.Snapshot()
	for _, turn := range turns {
		if turn.Role == session.RoleAssistant {
			t.Fatalf("want no assistant turn committed on cancellation, got %+v", turns)
		}
	}
	if len(emit.finals) != 0 {
		t.Fatalf("want no assistant_final emitted on cancellation, got %+v", emit.finals)
	}
}
