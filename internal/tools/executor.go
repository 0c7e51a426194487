package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/xpanvictor/voxgate/internal/apperr"
)

// ResolvedCall is a tool invocation whose streaming argument fragments
// have already been concatenated and JSON-decoded by the Turn Router.
type ResolvedCall struct {
	ID        string
	ToolName  string
	Arguments map[string]any
}

// ExecutionResult carries a tool's outcome back to the Turn Router for
// the tool-end UI envelope and the history's tool-role message.
type ExecutionResult struct {
	Call     ResolvedCall
	Result   map[string]any
	Err      error
	Duration time.Duration
}

// Executor runs one resolved tool call against a Registry.
type Executor struct{}

func NewExecutor() *Executor { return &Executor{} }

// Execute looks up call.ToolName in reg and runs its handler. An
// unknown tool name surfaces apperr.State per spec §7 ("unknown tool
// name ... abort current tool call").
func (e *Executor) Execute(ctx context.Context, reg Registry, call ResolvedCall) *ExecutionResult {
	tool, ok := reg.Get(call.ToolName)
	if !ok {
		err := apperr.State("turn", fmt.Errorf("unknown tool: %s", call.ToolName))
		return &ExecutionResult{Call: call, Err: err}
	}

	start := time.Now()
	result, err := tool.Handler(ctx, call.Arguments)
	return &ExecutionResult{Call: call, Result: result, Err: err, Duration: time.Since(start)}
}
