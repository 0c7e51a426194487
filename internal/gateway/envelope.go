// Package gateway holds the client-server envelope shapes spec §6
// defines, shared by the browser and media handlers so both transports
// serialize identically where the spec doesn't call for a difference.
package gateway

import "github.com/google/uuid"

// Envelope is the generic "status"/"event" shape; Content carries a
// plain string for status envelopes.
type Envelope struct {
	Type      string    `json:"type"`
	Content   string    `json:"content,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	SessionID uuid.UUID `json:"session_id,omitempty"`
}

// AssistantStreaming is an interim assistant fragment (browser only).
type AssistantStreaming struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// AssistantFinal is the terminal assistant bubble for one turn.
type AssistantFinal struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Speaker string `json:"speaker"`
}

// AudioData is one browser PCM frame.
type AudioData struct {
	Type         string `json:"type"`
	Data         string `json:"data"`
	FrameIndex   int    `json:"frame_index"`
	TotalFrames  int    `json:"total_frames"`
	SampleRate   int    `json:"sample_rate"`
	IsFinal      bool   `json:"is_final"`
}

// Control carries the barge-in cancellation signal.
type Control struct {
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
	At        string    `json:"at"`
	SessionID uuid.UUID `json:"session_id"`
}

// Exit is the goodbye envelope sent just before closing a socket.
type Exit struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TTSError reports a synthesis failure for one fragment (browser).
type TTSError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Text  string `json:"text"`
}

// ToolStart/ToolEnd are the UI envelopes spec §4.6 step 5 requires
// ("tool-start and tool-end UI envelopes with a call id, elapsed ms,
// and status").
type ToolStart struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Name   string `json:"name"`
}

type ToolEnd struct {
	Type      string         `json:"type"`
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Result    map[string]any `json:"result,omitempty"`
}
