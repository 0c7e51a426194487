package tools

import (
	"context"
	"testing"
)

func echoTool(name string) Tool {
	return Tool{
		Version: "1.0.0",
		Spec: Spec{
			Name:        name,
			Description: "echoes its input",
			Args: []ArgSpec{
				{Name: "value", Type: JSONString, Required: true},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return args, nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewMemoryRegistry()
	tool := echoTool("echo")

	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(tool); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}

	got, ok := reg.Get("echo")
	if !ok {
		t.Fatal("expected to find registered tool by name")
	}
	if got.Spec.Name != "echo" {
		t.Fatalf("unexpected tool returned: %+v", got)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Fatal("expected lookup of unregistered name to fail")
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewMemoryRegistry()
	tool := echoTool("echo")
	if err := reg.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Unregister(tool.ID()); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := reg.Get("echo"); ok {
		t.Fatal("expected tool to be gone after unregister")
	}
}

func TestRegistryLLMTools(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	llmTools := reg.LLMTools()
	if len(llmTools) != 1 {
		t.Fatalf("expected 1 llm tool, got %d", len(llmTools))
	}
	if llmTools[0].Name != "echo" {
		t.Fatalf("unexpected llm tool name: %s", llmTools[0].Name)
	}
	if len(llmTools[0].ToolFunction.RequiredProps) != 1 || llmTools[0].ToolFunction.RequiredProps[0] != "value" {
		t.Fatalf("expected required prop 'value', got %+v", llmTools[0].ToolFunction.RequiredProps)
	}
}

func TestExecutorUnknownTool(t *testing.T) {
	reg := NewMemoryRegistry()
	exec := NewExecutor()

	result := exec.Execute(context.Background(), reg, ResolvedCall{ToolName: "nope"})
	if result.Err == nil {
		t.Fatal("expected an error for an unregistered tool")
	}
}

func TestExecutorRunsHandler(t *testing.T) {
	reg := NewMemoryRegistry()
	if err := reg.Register(echoTool("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	exec := NewExecutor()

	result := exec.Execute(context.Background(), reg, ResolvedCall{
		ToolName:  "echo",
		Arguments: map[string]any{"value": "hi"},
	})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Result["value"] != "hi" {
		t.Fatalf("unexpected result: %+v", result.Result)
	}
}
