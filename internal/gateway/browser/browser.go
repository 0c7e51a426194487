// Package browser implements the Browser Conversation Handler (spec
// §4.8's browser session lifecycle), grounded on the teacher's
// internal/handlers/websocket.WebSocketHandler connection-accept and
// read-loop shape, generalized onto the session/enginepool/turn
// packages instead of the teacher's conversation.ConversationService +
// VSS.
package browser

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
	"github.com/xpanvictor/voxgate/internal/enginepool"
	"github.com/xpanvictor/voxgate/internal/gateway"
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
	sampleRate    = 24000
	frameInterval = 20 * time.Millisecond
	bytesPerFrame = sampleRate / 1000 * 2 * int(frameInterval/time.Millisecond) // 16-bit mono PCM, 20ms
	historyWindow = 40
	acquireTO     = 2 * time.Second
	greeting      = "Hi, I'm here to help. What can I do for you today?"
)

type Handler struct {
	logger     *Logger.Logger
	connMgr    *connmgr.Manager
	bridge     *bridge.Bridge
	sttPool    *enginepool.Pool[stt.RecognizerWithPushStream]
	ttsPool    *enginepool.Pool[tts.Synthesizer]
	kv         *kvstore.Client
	router     *turn.Router
	callRecord *callrecord.Store
	upgrader   websocket.Upgrader
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
	router.GET("/ws/conversation", h.Handle)
}

// Handle runs the full browser session lifecycle (spec §4.8 steps 1-7).
func (h *Handler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("browser websocket upgrade failed", "err", err)
		return
	}

	sessionID := uuid.New()
	if sid := c.Query("session_id"); sid != "" {
		if parsed, perr := uuid.Parse(sid); perr == nil {
			sessionID = parsed
		}
	}

	ctx := &session.Context{
		SessionID:    sessionID,
		Kind:         session.KindBrowser,
		LanguageHint: c.Query("lang"),
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
	}
	sess := session.New(ctx, historyWindow)

	connID := uuid.New()
	connMgrConn := &connmgr.Connection{
		ID:        connID,
		SessionID: sessionID,
		Kind:      connmgr.KindConversation,
		Topics:    map[string]struct{}{"conversation": {}},
		Conn:      conn,
	}
	h.connMgr.Register(connMgrConn)
	defer h.connMgr.Unregister(connID)

	rt := shared.NewRuntime(sess, h.bridge, h.kv, h.router, h.logger, "")
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

	if err := h.callRecord.Begin(context.Background(), sessionID, string(session.KindBrowser), ""); err != nil {
		h.logger.Warnw("call record begin failed", "session_id", sessionID, "err", err)
	}

	emit := h.emitterFor(connMgrConn, sessionID)

	if h.loadMemory(context.Background(), rt) {
		ctx.GreetingPlayed = true
	}

	if !ctx.GreetingPlayed {
		h.sendEnvelope(conn, gateway.Envelope{Type: "status", Content: greeting, Sender: "assistant", Topic: "session", SessionID: sessionID})
		sess.Memory.Append(session.RoleSystem, "You are a helpful voice assistant.")
		sess.Memory.Append(session.RoleAssistant, greeting)
		h.synthesizeGreeting(rt, emit)
		ctx.GreetingPlayed = true
	} else {
		h.sendEnvelope(conn, gateway.Envelope{Type: "status", Content: "session resumed", Sender: "assistant", Topic: "session", SessionID: sessionID})
	}

	thread := bridge.NewSpeechThread(sessionID, sttSlot.Engine, h.bridge, rt.Queue, h.logger)
	rt.Thread = thread
	streamCtx, streamCancel := context.WithCancel(context.Background())
	defer streamCancel()
	if err := thread.PrepareThread(streamCtx); err != nil {
		h.logger.Errorw("prepare speech thread failed", "session_id", sessionID, "err", err)
		return
	}
	if err := thread.StartRecognizer(streamCtx); err != nil {
		h.logger.Warnw("start recognizer failed", "session_id", sessionID, "err", err)
	}

	h.receiveLoop(streamCtx, conn, rt, emit, sessionID)
}

func (h *Handler) receiveLoop(ctx context.Context, conn *websocket.Conn, rt *shared.Runtime, emit turn.Emitter, sessionID uuid.UUID) {
	type frame struct {
		msgType int
		data    []byte
		err     error
	}
	frames := make(chan frame, 4)
	go func() {
		for {
			mt, data, err := conn.ReadMessage()
			frames <- frame{mt, data, err}
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
					h.logger.Errorw("browser websocket read error", "session_id", sessionID, "err", f.err)
				}
				return
			}
			rt.Sess.Context.Touch()
			switch f.msgType {
			case websocket.BinaryMessage:
				_ = rt.Thread.Write(f.data)
			case websocket.TextMessage:
				h.handleTextFrame(conn, f.data)
			}
		}
	}
}

func (h *Handler) handleTextFrame(conn *websocket.Conn, data []byte) {
	var msg struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warnw("malformed browser text frame, ignoring", "err", err)
		return
	}
}

func (h *Handler) handleSpeechEvent(ctx context.Context, rt *shared.Runtime, emit turn.Emitter, ev bridge.SpeechEvent) {
	switch ev.Type {
	case bridge.EventPartial:
		rt.BargeIn(func() {
			h.sendControlCancelled(rt, emit)
		})
	case bridge.EventFinal:
		if ev.Text == "" {
			return
		}
		rt.Tasks.Spawn(ctx, func(taskCtx context.Context) {
			stop := rt.BeginPlayback()
			err := h.router.RunTurn(taskCtx, rt.Sess, rt.VoiceKey, ev.Text, emit, rt.TTSSlot.Engine, stop)
			rt.EndPlayback()
			if err != nil {
				h.logger.Warnw("turn failed", "session_id", rt.Sess.Context.SessionID, "err", err)
			}
			_ = h.persistMemory(taskCtx, rt)
		})
	}
}

func (h *Handler) persistMemory(ctx context.Context, rt *shared.Runtime) error {
	turns := rt.Sess.Memory.Snapshot()
	payload, _ := json.Marshal(turns)
	return h.kv.Set(ctx, "voxgate:memory:"+rt.Sess.Context.SessionID.String(), string(payload), 24*time.Hour)
}

// loadMemory restores a resumed session's history from KV (spec
// §4.8 step 3). It returns true only when a prior snapshot was found
// and restored; a missing key (first-time connect) is not an error.
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

func (h *Handler) synthesizeGreeting(rt *shared.Runtime, emit turn.Emitter) {
	rc, err := rt.TTSSlot.Engine.Synthesize(context.Background(), greeting, rt.VoiceKey)
	if err != nil {
		emit.EmitTTSError(err.Error(), greeting)
		return
	}
	defer rc.Close()
	buf := make([]byte, 0, 32*1024)
	tmp := make([]byte, 4096)
	for {
		n, rerr := rc.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	emit.EmitAudioFragment(buf)
}

func (h *Handler) cleanup(rt *shared.Runtime, conn *websocket.Conn, sessionID uuid.UUID) {
	rt.Tasks.CancelAll(time.Second)
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
	if err := h.callRecord.End(context.Background(), sessionID, userTurnCount(rt.Sess), "", closeReason); err != nil {
		h.logger.Warnw("call record end failed", "session_id", sessionID, "err", err)
	}
	if err := conn.WriteJSON(gateway.Exit{Type: "exit", Message: "goodbye"}); err != nil {
		h.logger.Warnw("browser envelope write failed", "err", err)
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

func (h *Handler) sendEnvelope(conn *websocket.Conn, env gateway.Envelope) {
	if err := conn.WriteJSON(env); err != nil {
		h.logger.Warnw("browser envelope write failed", "err", err)
	}
}

func (h *Handler) sendControlCancelled(rt *shared.Runtime, emit turn.Emitter) {
	_ = emit // envelope sent by the connMgr.Broadcast call below
	h.connMgr.Broadcast(rt.Sess.Context.SessionID, connmgr.KindConversation, "", gateway.Control{
		Type:      "control",
		Action:    "tts_cancelled",
		Reason:    "barge_in",
		At:        "partial",
		SessionID: rt.Sess.Context.SessionID,
	})
}

// emitterFor builds the turn.Emitter a session's Router uses,
// translating fragments/tool events into connection-scoped envelopes
// and raw PCM frames (browser audio_data envelopes).
func (h *Handler) emitterFor(conn *connmgr.Connection, sessionID uuid.UUID) turn.Emitter {
	return &browserEmitter{h: h, conn: conn, sessionID: sessionID}
}

type browserEmitter struct {
	h         *Handler
	conn      *connmgr.Connection
	sessionID uuid.UUID
	frameIdx  int
}

func (e *browserEmitter) EmitAssistantStreaming(content string) {
	e.write(gateway.AssistantStreaming{Type: "assistant_streaming", Content: content})
}

func (e *browserEmitter) EmitAssistantFinal(content, speaker string) {
	e.write(gateway.AssistantFinal{Type: "assistant_final", Content: content, Speaker: speaker})
}

func (e *browserEmitter) EmitToolStart(callID, name string) {
	e.write(gateway.ToolStart{Type: "tool_start", CallID: callID, Name: name})
}

func (e *browserEmitter) EmitToolEnd(callID, name, status string, elapsedMs int64, result map[string]any) {
	e.write(gateway.ToolEnd{Type: "tool_end", CallID: callID, Name: name, Status: status, ElapsedMs: elapsedMs, Result: result})
}

// EmitAudioFragment splits one synthesized fragment into 20ms PCM
// frames and writes each as its own audio_data envelope with no
// inter-frame pacing (spec §4.5 step 4's browser transport mode; the
// frame-split edge case zero-pads a sub-one-frame fragment instead of
// ever sending zero frames for non-empty text).
func (e *browserEmitter) EmitAudioFragment(audio []byte) {
	if len(audio) == 0 {
		return
	}
	frames := tts.SplitFrames(audio, bytesPerFrame)
	for i, chunk := range frames {
		e.frameIdx++
		e.write(gateway.AudioData{
			Type:        "audio_data",
			Data:        base64.StdEncoding.EncodeToString(chunk),
			FrameIndex:  e.frameIdx,
			TotalFrames: len(frames),
			SampleRate:  sampleRate,
			IsFinal:     i == len(frames)-1,
		})
	}
}

func (e *browserEmitter) EmitTTSError(errText, text string) {
	e.write(gateway.TTSError{Type: "tts_error", Error: errText, Text: text})
}

func (e *browserEmitter) write(payload any) {
	if err := e.conn.Conn.WriteJSON(payload); err != nil {
		e.h.logger.Warnw("browser emit failed", "session_id", e.sessionID, "err", err)
	}
}
