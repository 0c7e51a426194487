// Package llm defines the provider-agnostic streaming contract the
// Turn Router consumes (spec §6's LLM streaming contract) and the Mux
// that selects among the OpenAI/Gemini/Ollama adapters behind it. It
// generalizes the teacher's pkg/assistant/adapters contract types,
// fixing the original's "panic on adapter error" control flow (spec
// §9 redesign note: exceptions-as-control-flow must become explicit
// terminal transitions / returned errors) into ordinary error returns.
package llm

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MsgRole string

const (
	RoleUser      MsgRole = "user"
	RoleAssistant MsgRole = "assistant"
	RoleSystem    MsgRole = "system"
	RoleTool      MsgRole = "tool"
)

// Message is one turn in the conversation sent to the provider.
type Message struct {
	Role      MsgRole
	Content   string
	CreatedAt time.Time
}

// ToolParamSchema describes one JSON-schema property of a tool's
// arguments object.
type ToolParamSchema struct {
	Type        string
	Description string
	Enum        []string
}

// ToolFunction is the callable shape of a tool, independent of
// provider wire format.
type ToolFunction struct {
	Properties    map[string]ToolParamSchema
	RequiredProps []string
}

// Tool is one entry in the tool list offered to the model.
type Tool struct {
	Name         string
	Description  string
	ToolFunction ToolFunction
}

// SelectedModel names a provider+model pair a RoutePolicy resolved to.
type SelectedModel struct {
	Provider string
	Name     string
}

// Input is one turn-router request to the Mux.
type Input struct {
	ID           uuid.UUID
	Messages     []Message
	ToolList     []Tool
	HandlerModel SelectedModel
}

// ToolCall is one fragment of a provider-reported function invocation
// request. Per spec §6, tool-call argument strings may arrive
// fragmented across multiple deltas and must be concatenated in
// order; Index is stable across the fragments of one call (the
// position the provider assigned it within the turn), while ID and
// ToolName are populated only on the fragment that introduces the
// call — callers accumulate ArgumentsFragment keyed by Index until a
// Delta with Done=true closes the turn, then parse the joined text as
// JSON.
type ToolCall struct {
	Index             uint
	ID                string
	ToolName          string
	ArgumentsFragment string
	CreatedAt         time.Time
}

// Delta is one incremental chunk of a streaming response: either
// assistant text, zero or more tool calls, or (on the final delta)
// Done=true with no other payload. This mirrors spec §6's
// {"delta":{"content"?,"tool_calls"?}} wire shape.
type Delta struct {
	Content   string
	ToolCalls []ToolCall
	Index     uint
	Done      bool
	CreatedAt time.Time
}

// ResponseChannel carries batches of deltas from an adapter to the
// Turn Router, matching the teacher's periodic-flush batching idiom.
type ResponseChannel chan []Delta

// Response is returned once Process's streaming loop has fully drained
// and closed rc.
type Response struct {
	ID        uuid.UUID
	StartedAt time.Time
	Done      bool
	Error     error
}

// Cfg tunes an adapter's delta-batching cadence.
type Cfg struct {
	DeltaBufferLimit uint
	DeltaTickRate    time.Duration
}

func (c Cfg) withDefaults() Cfg {
	if c.DeltaTickRate == 0 {
		c.DeltaTickRate = 150 * time.Millisecond
	}
	if c.DeltaBufferLimit == 0 {
		c.DeltaBufferLimit = 24
	}
	return c
}

// Adapter is the capability every provider-specific streaming client
// implements.
type Adapter interface {
	Process(ctx context.Context, input Input, rc *ResponseChannel) Response
}
