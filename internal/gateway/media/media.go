// Package media implements the Media Lifecycle Handler (spec §4.8's
// telephony session, §4.5's telephony framing, §4.9's DTMF gating).
// Grounded on the teacher's internal/handlers/websocket.HandleAudioWebSocket
// connection-accept shape, generalized onto JSON AudioMetadata/AudioData
// frames instead of the teacher's raw-binary-only audio path, and onto
// this module's SpeechThread/Runtime/turn.Router instead of the
// teacher's VSS + conversation.Brain pair.
package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xpanvictor/voxgate/internal/callrecord"
	"github.com/xpanvictor/voxgate/internal/dtmf"
	"github.com/xpanvictor/voxgate/internal/enginepool"
	"github.com/xpanvictor/voxgate/internal/gateway/bridge"
	"github.com/xpanvictor/voxgate/internal/gateway/connmgr"
	"github.com/xpanvictor/voxgate/internal/gateway/shared"
	"github.com/xpanvictor/voxgate/internal/kvstore"
	"github.com/xpanvictor/voxgate/internal/session"
	"github.com/xpanvictor/voxgate/internal/speech/stt"
	"github.com/xpanvictor/voxgate/internal/speech/tts"
	"github.com/xpanvictor/voxgate/internal/turn"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

const (
	telephonySampleRate = 16000
	historyWindow       = 40
	acquireTO           = 2 * time.Second
	frameInterval       = 20 * time.Millisecond
	dtmfExpectedPIN     = "123"
	dtmfMaxRetries      = 3
)

// inbound frame kinds (spec §4.5).
const (
	kindAudioMetadata = "AudioMetadata"
	kindAudioData     = "AudioData"
	kindDTMF          = "DTMF_TONE_RECEIVED"
	kindStopAudio     = "StopAudio"
)

type inboundFrame struct {
	Kind          string `json:"kind"`
	AudioMetadata struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"audioMetadata"`
	AudioData struct {
		Data            string `json:"data"`
		Silent          bool   `json:"silent"`
		Timestamp       int64  `json:"timestamp"`
		ParticipantRawID string `json:"participantRawID,omitempty"`
	} `json:"audioData"`
	DTMF struct {
		Tone       string `json:"tone"`
		SequenceID int    `json:"sequenceId"`
	} `json:"dtmf"`
}

type outboundAudioFrame struct {
	Kind      string `json:"kind"`
	AudioData struct {
		Data       string `json:"data"`
		SequenceID int    `json:"sequenceId"`
	} `json:"AudioData"`
}

type outboundStopFrame struct {
	Kind      string         `json:"kind"`
	StopAudio map[string]any `json:"StopAudio"`
}

type Handler struct {
	logger     *Logger.Logger
	connMgr    *connmgr.Manager
	bridge     *bridge.Bridge
	sttPool    *enginepool.Pool[stt.RecognizerWithPushStream]
	ttsPool    *enginepool.Pool[tts.Synthesizer]
	kv         *kvstore.Client
	router     *turn.Router
	callRecord *callrecord.Store

	upgrader websocket.Upgrader
}

func New(logger *Logger.Logger, connMgr *connmgr.Manager, br *bridge.Bridge, sttPool *enginepool.Pool[stt.RecognizerWithPushStream], ttsPool *enginepool.Pool[tts.Synthesizer], kv *kvstore.Client, router *turn.Router, callRecord *callrecord.Store) *Handler {
	return &Handler{
		logger:     logger,
		connMgr:    connMgr,
		bridge:     br,
		sttPool:    sttPool,
		ttsPool:    ttsPool,
		kv:         kv,
		router:     router,
		callRecord: callRecord,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws/media", h.Handle)
}

// Handle runs the telephony session lifecycle: structurally identical
// to the browser handler except JSON audio framing, AudioMetadata-
// triggered recognizer start, DTMF gating ahead of turn dispatch, and
// the paced telephony egress (spec §4.8).
func (h *Handler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("media websocket upgrade failed", "err", err)
		return
	}

	sessionID := uuid.New()
	if cid := c.Query("call_id"); cid != "" {
		if parsed, perr := uuid.Parse(cid); perr == nil {
			sessionID = parsed
		}
	}

	callerID := c.Query("caller_id")
	ctx := &session.Context{
		SessionID: sessionID,
		Kind:      session.KindTelephony,
		CallerID:  callerID,
		CreatedAt: time.Now(),
		LastActivity: time.Now(),
	}
	sess := session.New(ctx, historyWindow)

	connID := uuid.New()
	connMgrConn := &connmgr.Connection{
		ID:        connID,
		SessionID: sessionID,
		Kind:      connmgr.KindMedia,
		Topics:    map[string]struct{}{"audio": {}, "events": {}},
		Conn:      conn,
	}
	h.connMgr.Register(connMgrConn)
	defer h.connMgr.Unregister(connID)

	rt := shared.NewRuntime(sess, h.bridge, h.kv, h.router, h.logger, "")
	rt.DTMF = dtmf.New(dtmfExpectedPIN, dtmfMaxRetries)
	defer h.cleanup(rt, conn, sessionID)

	acquireCtx, cancel := context.WithTimeout(context.Background(), acquireTO)
	sttSlot, err := h.sttPool.Acquire(acquireCtx, sessionID, "")
	cancel()
	if err != nil {
		h.logger.Warnw("stt acquire failed, closing with capacity", "session_id", sessionID, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(1013, "capacity unavailable"), time.Now().Add(time.Second))
		return
	}
	rt.STTSlot = sttSlot

	acquireCtx, cancel = context.WithTimeout(context.Background(), acquireTO)
	ttsSlot, err := h.ttsPool.Acquire(acquireCtx, sessionID, "")
	cancel()
	if err != nil {
		h.logger.Warnw("tts acquire failed, closing with capacity", "session_id", sessionID, "err", err)
		h.sttPool.Release(sessionID)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(1013, "capacity unavailable"), time.Now().Add(time.Second))
		return
	}
	rt.TTSSlot = ttsSlot

	if err := sess.Activate(); err != nil {
		h.logger.Errorw("session activate failed", "session_id", sessionID, "err", err)
		return
	}

	if err := h.callRecord.Begin(context.Background(), sessionID, string(session.KindTelephony), callerID); err != nil {
		h.logger.Warnw("call record begin failed", "session_id", sessionID, "err", err)
	}

	if h.loadMemory(context.Background(), rt) {
		ctx.GreetingPlayed = true
	}

	if !ctx.GreetingPlayed {
		sess.Memory.Append(session.RoleSystem, "You are a helpful voice assistant. Do not proceed to scheduling or escalation tools until caller identity is validated.")
		ctx.GreetingPlayed = true
	}

	thread := bridge.NewSpeechThread(sessionID, sttSlot.Engine, h.bridge, rt.Queue, h.logger)
	rt.Thread = thread
	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()
	if err := thread.PrepareThread(streamCtx); err != nil {
		h.logger.Errorw("prepare speech thread failed", "session_id", sessionID, "err", err)
		return
	}

	if err := rt.DTMF.BeginEntry(streamCtx); err != nil {
		h.logger.Warnw("dtmf begin_entry failed", "session_id", sessionID, "err", err)
	}

	emit := h.emitterFor(conn, sessionID, rt)
	h.receiveLoop(streamCtx, conn, rt, emit, sessionID)
}

func (h *Handler) receiveLoop(ctx context.Context, conn *websocket.Conn, rt *shared.Runtime, emit turn.Emitter, sessionID uuid.UUID) {
	type rawFrame struct {
		data []byte
		err  error
	}
	frames := make(chan rawFrame, 4)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			frames <- rawFrame{data, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-rt.Loop.Tasks():
			fn()
		case ev := <-rt.Queue:
			h.handleSpeechEvent(ctx, rt, emit, ev)
		case f := <-frames:
			if f.err != nil {
				if websocket.IsUnexpectedCloseError(f.err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Errorw("media websocket read error", "session_id", sessionID, "err", f.err)
				}
				return
			}
			rt.Sess.Context.Touch()
			h.handleInboundFrame(ctx, rt, f.data)
		}
	}
}

func (h *Handler) handleInboundFrame(ctx context.Context, rt *shared.Runtime, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.logger.Warnw("malformed media frame, ignoring", "err", err)
		return
	}

	switch frame.Kind {
	case kindAudioMetadata:
		// One-shot trigger: start the recognizer only on the first
		// AudioMetadata frame (spec §4.8's telephony-specific step).
		if err := rt.Thread.StartRecognizer(ctx); err != nil {
			h.logger.Warnw("start_recognizer failed", "session_id", rt.Sess.Context.SessionID, "err", err)
		}
	case kindAudioData:
		if frame.AudioData.Silent {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(frame.AudioData.Data)
		if err != nil {
			h.logger.Warnw("malformed audio_data base64, dropping frame", "err", err)
			return
		}
		_ = rt.Thread.Write(pcm)
	case kindDTMF:
		h.handleDTMF(ctx, rt, frame.DTMF.Tone)
	}
}

// handleDTMF drives the DTMF sub-state-machine (spec §4.9) and, on a
// completed match, opens the gate and appends a completion event to
// the call's KV stream (testable property 7/E5/E6).
func (h *Handler) handleDTMF(ctx context.Context, rt *shared.Runtime, tone string) {
	if tone == "" {
		return
	}
	r := []rune(tone)
	complete, matched, err := rt.DTMF.Digit(ctx, r[0])
	if err != nil {
		h.logger.Warnw("dtmf digit rejected", "session_id", rt.Sess.Context.SessionID, "err", err)
		return
	}
	if !complete {
		return
	}
	if matched {
		sid := rt.Sess.Context.SessionID.String()
		if err := dtmf.PublishOutcome(ctx, sid, h.kv.Stream(sid)); err != nil {
			h.logger.Warnw("dtmf outcome publish failed", "session_id", sid, "err", err)
		}
		return
	}
	// Mismatch: per spec E6, no KV event, gate stays closed. A caller
	// may retry by continuing to dial, up to maxRetries; once retries
	// are exhausted the gate locks for the rest of the call and we stop
	// re-arming digit entry.
	if rt.DTMF.RetriesRemaining() <= 0 {
		h.logger.Warnw("dtmf retries exhausted, gate locked for remainder of call", "session_id", rt.Sess.Context.SessionID)
		return
	}
	_ = rt.DTMF.BeginEntry(ctx)
}

func (h *Handler) handleSpeechEvent(ctx context.Context, rt *shared.Runtime, emit turn.Emitter, ev bridge.SpeechEvent) {
	switch ev.Type {
	case bridge.EventPartial:
		rt.BargeIn(func() {
			h.connMgr.Broadcast(rt.Sess.Context.SessionID, connmgr.KindMedia, "", outboundStopFrame{Kind: kindStopAudio, StopAudio: map[string]any{}})
		})
	case bridge.EventFinal:
		if ev.Text == "" {
			return
		}
		if !rt.DTMF.GateOpen() {
			h.logger.Infow("dropping turn, dtmf gate closed", "session_id", rt.Sess.Context.SessionID)
			return
		}
		rt.Tasks.Spawn(ctx, func(taskCtx context.Context) {
			stop := rt.BeginPlayback()
			err := h.router.RunTurn(taskCtx, rt.Sess, rt.VoiceKey, ev.Text, emit, rt.TTSSlot.Engine, stop)
			rt.EndPlayback()
			_ = h.persistMemory(taskCtx, rt)
			if err != nil {
				h.logger.Warnw("turn failed", "session_id", rt.Sess.Context.SessionID, "err", err)
				return
			}
			select {
			case <-stop:
				// Barge-in already sent the cancel sentinel.
			default:
				h.connMgr.Broadcast(rt.Sess.Context.SessionID, connmgr.KindMedia, "", outboundStopFrame{Kind: kindStopAudio, StopAudio: map[string]any{}})
			}
		})
	}
}

// persistMemory snapshots the session's rolling history to KV after
// every turn so a reconnect with the same call id resumes mid
// conversation (spec §4.8 step 3).
func (h *Handler) persistMemory(ctx context.Context, rt *shared.Runtime) error {
	turns := rt.Sess.Memory.Snapshot()
	payload, _ := json.Marshal(turns)
	return h.kv.Set(ctx, "voxgate:memory:"+rt.Sess.Context.SessionID.String(), string(payload), 24*time.Hour)
}

// loadMemory restores a resumed call's history from KV. It returns
// true only when a prior snapshot was found and restored.
func (h *Handler) loadMemory(ctx context.Context, rt *shared.Runtime) bool {
	raw, err := h.kv.Get(ctx, "voxgate:memory:"+rt.Sess.Context.SessionID.String())
	if err != nil {
		return false
	}
	var turns []session.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		h.logger.Warnw("malformed persisted memory, ignoring", "session_id", rt.Sess.Context.SessionID, "err", err)
		return false
	}
	if len(turns) == 0 {
		return false
	}
	rt.Sess.Memory.Restore(turns)
	return true
}

func (h *Handler) cleanup(rt *shared.Runtime, conn *websocket.Conn, sessionID uuid.UUID) {
	rt.Tasks.CancelAll(time.Second)
	dtmfStatus := "not_started"
	if rt.DTMF != nil {
		dtmfStatus = rt.DTMF.State()
		_ = rt.DTMF.Cancel(context.Background())
	}
	if rt.Thread != nil {
		_ = rt.Thread.Stop(context.Background())
	}
	if rt.STTSlot != nil {
		h.sttPool.Release(sessionID)
	}
	if rt.TTSSlot != nil {
		h.ttsPool.Release(sessionID)
	}
	_ = h.persistMemory(context.Background(), rt)
	closeReason := "disconnect"
	if reason := rt.Sess.CloseReason(); reason != nil {
		closeReason = reason.Error()
	}
	if err := h.callRecord.End(context.Background(), sessionID, userTurnCount(rt.Sess), dtmfStatus, closeReason); err != nil {
		h.logger.Warnw("call record end failed", "session_id", sessionID, "err", err)
	}
	_ = rt.Sess.Close()
	_ = conn.Close()
}

// userTurnCount counts completed user utterances in a session's
// history, the "final turn count" callrecord.Store.End persists.
func userTurnCount(sess *session.Session) int {
	n := 0
	for _, t := range sess.Memory.Snapshot() {
		if t.Role == session.RoleUser {
			n++
		}
	}
	return n
}

// emitterFor builds the turn.Emitter the Turn Router drives for one
// telephony session: assistant text is not sent to the media socket
// (there is no UI to show it to), only paced AudioData frames and the
// tool UI envelopes dashboards subscribe to via connmgr's "events"
// topic.
func (h *Handler) emitterFor(conn *websocket.Conn, sessionID uuid.UUID, rt *shared.Runtime) turn.Emitter {
	return &mediaEmitter{h: h, conn: conn, sessionID: sessionID, rt: rt, frameBuf: tts.NewFrameBuffer(32 * 1024)}
}

type mediaEmitter struct {
	h          *Handler
	conn       *websocket.Conn
	sessionID  uuid.UUID
	rt         *shared.Runtime
	sequenceID int
	// frameBuf stages each 20 ms frame between SplitFrames and the paced
	// socket write: EmitAudioFragment pushes one frame and drains it
	// before pushing the next, so a long fragment never overflows the
	// ring, and Reset discards a staged frame on barge-in.
	frameBuf *tts.FrameBuffer
}

func (e *mediaEmitter) EmitAssistantStreaming(content string) {}

func (e *mediaEmitter) EmitAssistantFinal(content, speaker string) {
	e.h.connMgr.Broadcast(e.sessionID, connmgr.KindDashboard, "transcript", map[string]any{
		"type": "assistant_final", "content": content, "speaker": speaker,
	})
}

func (e *mediaEmitter) EmitToolStart(callID, name string) {
	e.h.connMgr.Broadcast(e.sessionID, connmgr.KindDashboard, "events", map[string]any{
		"type": "tool_start", "call_id": callID, "name": name,
	})
}

func (e *mediaEmitter) EmitToolEnd(callID, name, status string, elapsedMs int64, result map[string]any) {
	e.h.connMgr.Broadcast(e.sessionID, connmgr.KindDashboard, "events", map[string]any{
		"type": "tool_end", "call_id": callID, "name": name, "status": status, "elapsed_ms": elapsedMs, "result": result,
	})
}

// EmitAudioFragment writes one synthesized fragment as a sequence of
// paced AudioData frames, 20 ms apart, matching real-time playback
// (spec §4.5 step 4). Between every frame it selects on the session's
// current playback-stop channel and stops sending immediately on
// barge-in, per step 5, without emitting the remainder.
func (e *mediaEmitter) EmitAudioFragment(audio []byte) {
	if len(audio) == 0 {
		return
	}
	const bytesPerFrame = telephonySampleRate / 1000 * 2 * int(frameInterval/time.Millisecond) // 16-bit mono PCM, 20ms
	stop := e.rt.CurrentPlaybackStop()
	buf := make([]byte, bytesPerFrame)
	for _, chunk := range tts.SplitFrames(audio, bytesPerFrame) {
		e.frameBuf.Write(chunk)
		select {
		case <-stop:
			e.frameBuf.Reset()
			return
		default:
		}

		n, _ := e.frameBuf.Read(buf)
		if n == 0 {
			break
		}
		e.sequenceID++
		var out outboundAudioFrame
		out.Kind = kindAudioData
		out.AudioData.Data = base64.StdEncoding.EncodeToString(buf[:n])
		out.AudioData.SequenceID = e.sequenceID
		if err := e.conn.WriteJSON(out); err != nil {
			e.h.logger.Warnw("media audio write failed", "session_id", e.sessionID, "err", err)
			e.frameBuf.Reset()
			return
		}

		select {
		case <-stop:
			e.frameBuf.Reset()
			return
		case <-time.After(frameInterval):
		}
	}
}

func (e *mediaEmitter) EmitTTSError(errText, text string) {
	e.h.connMgr.Broadcast(e.sessionID, connmgr.KindDashboard, "events", map[string]any{
		"type": "tts_error", "error": errText, "text": text,
	})
}
