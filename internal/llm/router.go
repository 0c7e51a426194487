package llm

import (
	"context"
	"fmt"
)

// AdapterPack pairs a provider's Adapter with the model it defaults to.
type AdapterPack struct {
	Adapter      Adapter
	Name         string
	DefaultModel SelectedModel
}

// RoutePolicy decides which provider/model handles a given input;
// implementations can inspect tool requirements, session config, or
// simply always return the same model (spec's Non-goal around
// multi-node migration means routing is a per-process decision, not a
// cluster-wide one).
type RoutePolicy interface {
	Select(input Input) SelectedModel
}

// StaticPolicy always selects the same model — the default for a
// single-provider deployment.
type StaticPolicy struct{ Model SelectedModel }

func (s StaticPolicy) Select(Input) SelectedModel { return s.Model }

// Mux fans a Turn Router request out to the adapter its RoutePolicy
// selects. Unlike the teacher's router.Mux.Stream (which panics on a
// missing adapter or a provider error), Mux.Stream returns an error so
// the Turn Router can fail the turn cleanly (spec §7 StateError /
// ProviderError).
type Mux struct {
	Policy     RoutePolicy
	AdapterMap map[string]AdapterPack
}

func New(policy RoutePolicy) *Mux {
	return &Mux{Policy: policy, AdapterMap: make(map[string]AdapterPack)}
}

func (m *Mux) Register(key string, pack AdapterPack) {
	m.AdapterMap[key] = pack
}

func modelKey(sm SelectedModel) string { return fmt.Sprintf("%s:%s", sm.Provider, sm.Name) }

// Stream resolves a model, dispatches to its adapter, and returns once
// the adapter's Process call reports completion (rc is drained and
// closed by the adapter before Process returns).
func (m *Mux) Stream(ctx context.Context, input Input, rc *ResponseChannel) Response {
	sm := m.Policy.Select(input)
	pack, ok := m.AdapterMap[modelKey(sm)]
	if !ok {
		close(*rc)
		return Response{Error: fmt.Errorf("no adapter registered for model %q", modelKey(sm))}
	}
	input.HandlerModel = sm
	return pack.Adapter.Process(ctx, input, rc)
}
