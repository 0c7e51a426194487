// Package ollamaadapter implements llm.Adapter against the local/dev
// Ollama provider, carried over from the teacher's
// pkg/assistant/adapters/ollama with its genID-failure panic replaced
// by an ordinary error Response.
package ollamaadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"
	"github.com/xpanvictor/voxgate/internal/llm"
	ollama "github.com/xpanvictor/voxgate/internal/llm/providers/ollama"
)

type Adapter struct {
	provider *ollama.Provider
	model    string
	cfg      llm.Cfg
}

func New(provider *ollama.Provider, model string, cfg llm.Cfg) *Adapter {
	return &Adapter{provider: provider, model: model, cfg: cfg.withDefaults()}
}

func convertMessages(msgs []llm.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, api.Message{
			Role:    string(m.Role),
			Content: fmt.Sprintf("%s\nCurrent Time: %s", m.Content, m.CreatedAt.Local()),
		})
	}
	return out
}

func (a *Adapter) Process(ctx context.Context, input llm.Input, rc *llm.ResponseChannel) llm.Response {
	genID := uuid.New()
	startedAt := time.Now()

	stream := true
	req := api.ChatRequest{Model: a.model, Messages: convertMessages(input.Messages), Stream: &stream}

	var buf []llm.Delta
	var seq uint
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ticker := time.NewTicker(a.cfg.DeltaTickRate)
	defer ticker.Stop()

	drain := func() {
		if len(buf) == 0 {
			return
		}
		snap := make([]llm.Delta, len(buf))
		copy(snap, buf)
		select {
		case *rc <- snap:
			buf = buf[:0]
		default:
		}
	}

	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		for {
			select {
			case <-streamCtx.Done():
				return
			case <-ticker.C:
				drain()
			}
		}
	}()

	handler := func(cr api.ChatResponse) error {
		seq++
		buf = append(buf, llm.Delta{
			Content:   cr.Message.Content,
			Index:     seq,
			Done:      cr.Done,
			CreatedAt: cr.CreatedAt,
		})
		return nil
	}

	err := a.provider.Chat(ctx, req, handler)

	cancel()
	<-flusherDone
	drain()

	*rc <- []llm.Delta{{Done: true, CreatedAt: time.Now()}}
	close(*rc)

	if err != nil {
		return llm.Response{ID: genID, StartedAt: startedAt, Error: err}
	}
	return llm.Response{ID: genID, StartedAt: startedAt, Done: true}
}
