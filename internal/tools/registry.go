package tools

import (
	"fmt"
	"sync"

	"github.com/xpanvictor/voxgate/internal/llm"
)

// Tool pairs a callable Spec with its Handler and registry metadata.
// Grounded on the teacher's pkg/tool_system.Tool.
type Tool struct {
	Spec    Spec
	Handler Handler
	Version string
	Tags    []string
}

// ID is this tool's registry key. The teacher used a hardcoded
// "xp_t" internal mask; this carries the same versioned-key idiom
// under the new module's own prefix.
func (t Tool) ID() string {
	return fmt.Sprintf("vg_t:%s:%s", t.Spec.Name, t.Version)
}

// ToLLMTool converts this tool's Spec into the llm package's
// provider-agnostic Tool shape, ready for an adapter's convertTools.
func (t Tool) ToLLMTool() llm.Tool {
	props := make(map[string]llm.ToolParamSchema, len(t.Spec.Args))
	var required []string
	for _, a := range t.Spec.Args {
		props[a.Name] = llm.ToolParamSchema{Type: string(a.Type), Description: a.Description, Enum: a.Enum}
		if a.Required {
			required = append(required, a.Name)
		}
	}
	return llm.Tool{
		Name:        t.Spec.Name,
		Description: t.Spec.Description,
		ToolFunction: llm.ToolFunction{
			Properties:    props,
			RequiredProps: required,
		},
	}
}

// Registry holds the process's callable tools, indexed by name for
// turn-router lookup and exposable as llm.Tool for the model.
type Registry interface {
	Register(t Tool) error
	Unregister(id string) error
	Get(name string) (Tool, bool)
	List() []Tool
	LLMTools() []llm.Tool
}

type memoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	byName map[string]string
}

func NewMemoryRegistry() Registry {
	return &memoryRegistry{
		tools:  make(map[string]Tool),
		byName: make(map[string]string),
	}
}

func (m *memoryRegistry) Register(t Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := t.ID()
	if _, exists := m.tools[id]; exists {
		return fmt.Errorf("tool with id %s already registered", id)
	}
	m.tools[id] = t
	m.byName[t.Spec.Name] = id
	return nil
}

func (m *memoryRegistry) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tools[id]; ok {
		delete(m.byName, t.Spec.Name)
	}
	delete(m.tools, id)
	return nil
}

func (m *memoryRegistry) Get(name string) (Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	if !ok {
		return Tool{}, false
	}
	t, ok := m.tools[id]
	return t, ok
}

func (m *memoryRegistry) List() []Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tool, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, t)
	}
	return out
}

func (m *memoryRegistry) LLMTools() []llm.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]llm.Tool, 0, len(m.tools))
	for _, t := range m.tools {
		out = append(out, t.ToLLMTool())
	}
	return out
}
