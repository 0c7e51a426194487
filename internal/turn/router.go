// Package turn implements the Turn Router (spec §4.6): one user
// utterance in, one streamed assistant turn out, including tool-call
// sub-turns. Grounded on the teacher's internal/domains/conversation/
// brain.Brain loop (system-prompt-plus-history construction, recursive
// re-streaming after a tool call) generalized onto the llm package's
// provider-agnostic streaming contract and the tts.Streamer sentence-
// fragment pipeline instead of the teacher's single non-streaming
// completion call.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/apperr"
	"github.com/xpanvictor/voxgate/internal/llm"
	"github.com/xpanvictor/voxgate/internal/session"
	"github.com/xpanvictor/voxgate/internal/speech/tts"
	"github.com/xpanvictor/voxgate/internal/tools"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// Streamer is the capability the Turn Router needs from the LLM
// layer; llm.Mux satisfies it.
type Streamer interface {
	Stream(ctx context.Context, input llm.Input, rc *llm.ResponseChannel) llm.Response
}

// Emitter is the UI/egress sink the Turn Router drives. Concrete
// implementations live in the gateway handlers (browser/media), which
// know how to turn a fragment or envelope into a connmgr broadcast or
// a telephony frame.
type Emitter interface {
	EmitAssistantStreaming(content string)
	EmitAssistantFinal(content, speaker string)
	EmitToolStart(callID, name string)
	EmitToolEnd(callID, name, status string, elapsedMs int64, result map[string]any)
	EmitAudioFragment(audio []byte)
	EmitTTSError(errText, text string)
}

// Router drives turns for any session: it owns no session state
// itself (the Session and its Memory are passed in), only the shared
// collaborators — LLM mux, tool registry/executor, TTS streamer — a
// process wires once.
type Router struct {
	LLM       Streamer
	Tools     tools.Registry
	Executor  *tools.Executor
	TTS       *tts.Streamer
	Logger    *Logger.Logger
	SystemMsg string

	maxToolRecursion int
}

func New(llmMux Streamer, toolRegistry tools.Registry, executor *tools.Executor, ttsStreamer *tts.Streamer, logger *Logger.Logger, systemPrompt string) *Router {
	return &Router{
		LLM:              llmMux,
		Tools:            toolRegistry,
		Executor:         executor,
		TTS:              ttsStreamer,
		Logger:           logger,
		SystemMsg:        systemPrompt,
		maxToolRecursion: 4,
	}
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

// RunTurn executes one user utterance through to a committed assistant
// turn (spec §4.6's algorithm). ctx is the turn's cancel token: barge-
// in or disconnect cancels it, which aborts the LLM stream and drops
// any buffered-but-unflushed TTS text without committing it to memory
// (spec invariant: an assistant fragment is committed only if the
// stream completed uncancelled with non-empty text).
func (r *Router) RunTurn(ctx context.Context, sess *session.Session, voiceKey string, userUtterance string, emit Emitter, synth tts.Synthesizer, bargeIn <-chan struct{}) error {
	sess.Memory.Append(session.RoleUser, userUtterance)

	finalText, toolCalled, err := r.streamOnce(ctx, sess, voiceKey, emit, synth, bargeIn, 0)
	if err != nil {
		return err
	}

	if !toolCalled && finalText != "" {
		emit.EmitAssistantFinal(finalText, "assistant")
	}

	return nil
}

// streamOnce runs one streaming pass (the initial turn or a tool-call
// follow-up) and recurses when the model asks for a tool. depth guards
// against runaway recursive tool loops.
func (r *Router) streamOnce(ctx context.Context, sess *session.Session, voiceKey string, emit Emitter, synth tts.Synthesizer, bargeIn <-chan struct{}, depth int) (finalText string, toolCalled bool, err error) {
	if depth > r.maxToolRecursion {
		return "", false, apperr.State("turn", fmt.Errorf("tool recursion limit exceeded"))
	}

	input := llm.Input{
		ID:       uuid.New(),
		Messages: r.buildMessages(sess),
		ToolList: r.Tools.LLMTools(),
	}

	rc := make(llm.ResponseChannel, 8)
	streamDone := make(chan struct{})
	var streamResp llm.Response
	go func() {
		defer close(streamDone)
		streamResp = r.LLM.Stream(ctx, input, &rc)
	}()

	deltaCh := make(chan string, 32)
	fragCh := r.TTS.Stream(ctx, synth, voiceKey, deltaCh, bargeIn)

	fragDone := make(chan struct{})
	go func() {
		defer close(fragDone)
		for frag := range fragCh {
			emit.EmitAssistantStreaming(frag.Text)
			emit.EmitAudioFragment(frag.Audio)
		}
	}()

	pending := map[uint]*pendingToolCall{}
	var order []uint
	var textBuf strings.Builder

	for batch := range rc {
		for _, d := range batch {
			if d.Content != "" {
				textBuf.WriteString(d.Content)
				select {
				case deltaCh <- d.Content:
				case <-ctx.Done():
				}
			}
			for _, tc := range d.ToolCalls {
				pc, ok := pending[tc.Index]
				if !ok {
					pc = &pendingToolCall{}
					pending[tc.Index] = pc
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.ToolName != "" {
					pc.name = tc.ToolName
				}
				pc.args.WriteString(tc.ArgumentsFragment)
			}
		}
	}
	close(deltaCh)
	<-fragDone
	<-streamDone

	if ctx.Err() != nil {
		// Cancelled mid-stream (barge-in/disconnect): the partial
		// assistant content is dropped entirely, never committed.
		return "", false, ctx.Err()
	}
	if streamResp.Error != nil {
		return "", false, apperr.Provider("llm", streamResp.Error)
	}

	text := textBuf.String()

	if len(order) == 0 {
		if text != "" {
			sess.Memory.Append(session.RoleAssistant, text)
		}
		return text, false, nil
	}

	// A tool was called: append any assistant text streamed before the
	// call (the tool-call id, name and arguments are not recorded in
	// memory), execute each accumulated call in order, append tool
	// results, and recurse to produce the follow-up assistant text.
	if text != "" {
		sess.Memory.Append(session.RoleAssistant, text)
	}

	for _, idx := range order {
		pc := pending[idx]
		callID := pc.id
		if callID == "" {
			callID = uuid.NewString()
		}

		argsText := pc.args.String()
		var args map[string]any
		if strings.TrimSpace(argsText) != "" {
			if jerr := json.Unmarshal([]byte(argsText), &args); jerr != nil {
				return "", true, apperr.State("turn", fmt.Errorf("malformed arguments json for tool %q: %w", pc.name, jerr))
			}
		} else {
			args = map[string]any{}
		}

		emit.EmitToolStart(callID, pc.name)

		start := time.Now()
		result := r.Executor.Execute(ctx, r.Tools, tools.ResolvedCall{ID: callID, ToolName: pc.name, Arguments: args})
		elapsed := time.Since(start).Milliseconds()

		status := "success"
		resultPayload := result.Result
		if result.Err != nil {
			status = "error"
			resultPayload = map[string]any{"error": result.Err.Error()}
		}
		emit.EmitToolEnd(callID, pc.name, status, elapsed, resultPayload)

		resultJSON, _ := json.Marshal(resultPayload)
		sess.Memory.Append(session.RoleTool, string(resultJSON))

		if result.Err != nil {
			return "", true, apperr.State("turn", result.Err)
		}
	}

	followUp, _, followErr := r.streamOnce(ctx, sess, voiceKey, emit, synth, bargeIn, depth+1)
	if followErr != nil {
		return "", true, followErr
	}
	if followUp != "" {
		emit.EmitAssistantFinal(followUp, "assistant")
	}
	return followUp, true, nil
}

func (r *Router) buildMessages(sess *session.Session) []llm.Message {
	turns := sess.Memory.Snapshot()
	out := make([]llm.Message, 0, len(turns)+1)
	if r.SystemMsg != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: r.SystemMsg, CreatedAt: time.Now()})
	}
	for _, t := range turns {
		out = append(out, llm.Message{Role: llm.MsgRole(t.Role), Content: t.Content, CreatedAt: t.CreatedAt})
	}
	return out
}
