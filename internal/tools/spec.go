// Package tools adapts the teacher's pkg/tool_system registry/
// executor/builder to the llm package's provider-agnostic Tool
// contract, so a tool registered once is offered to every LLM
// adapter's convertTools without a teacher/Contract*-shaped
// intermediate.
package tools

import "context"

type JSONType string

const (
	JSONString  JSONType = "string"
	JSONNumber  JSONType = "number"
	JSONObject  JSONType = "object"
	JSONArray   JSONType = "array"
	JSONBoolean JSONType = "boolean"
)

// ArgSpec is one named, typed argument a tool accepts.
type ArgSpec struct {
	Name        string
	Type        JSONType
	Description string
	Required    bool
	Enum        []string
}

// Spec is a tool's callable signature, independent of registration
// bookkeeping (version, tags) carried on Tool itself.
type Spec struct {
	Name        string
	Description string
	Args        []ArgSpec
}

// Handler executes one resolved tool call. args has already been
// JSON-decoded from the concatenated streaming argument fragments.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)
