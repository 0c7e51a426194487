// Package geminiadapter implements llm.Adapter against the Gemini
// provider, carrying over the teacher's periodic-flush batching idiom
// from pkg/assistant/adapters/gemini while fixing its shutdown
// sequence to never block past a final bounded Done send.
package geminiadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/llm"
	gemini "github.com/xpanvictor/voxgate/internal/llm/providers/gemini"
)

type Adapter struct {
	provider *gemini.Provider
	model    string
	cfg      llm.Cfg
}

func New(provider *gemini.Provider, model string, cfg llm.Cfg) *Adapter {
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}
	return &Adapter{provider: provider, model: model, cfg: cfg.withDefaults()}
}

func convertTools(tools []llm.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]*genai.Tool, len(tools))
	for i, t := range tools {
		props := make(map[string]*genai.Schema, len(t.ToolFunction.Properties))
		for name, p := range t.ToolFunction.Properties {
			var st genai.Type
			switch p.Type {
			case "string":
				st = genai.TypeString
			case "integer":
				st = genai.TypeInteger
			case "number":
				st = genai.TypeNumber
			case "boolean":
				st = genai.TypeBoolean
			default:
				st = genai.TypeString
			}
			props[name] = &genai.Schema{Type: st, Description: p.Description, Enum: p.Enum}
		}
		out[i] = &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  &genai.Schema{Type: genai.TypeObject, Properties: props, Required: t.ToolFunction.RequiredProps},
		}}}
	}
	return out
}

func convertBackward(resp *genai.GenerateContentResponse, seq *uint) []llm.Delta {
	var out []llm.Delta
	if resp == nil {
		return out
	}
	now := time.Now()
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		var text string
		var calls []llm.ToolCall
		for _, part := range cand.Content.Parts {
			if fc, ok := part.(genai.FunctionCall); ok {
				argsJSON, _ := json.Marshal(fc.Args)
				calls = append(calls, llm.ToolCall{
					Index:             uint(len(calls)),
					ID:                uuid.NewString(),
					ToolName:          fc.Name,
					ArgumentsFragment: string(argsJSON),
					CreatedAt:         now,
				})
				continue
			}
			if txt, ok := part.(genai.Text); ok {
				text += string(txt)
			}
		}
		if text != "" || len(calls) > 0 {
			*seq++
			out = append(out, llm.Delta{Content: text, ToolCalls: calls, Index: *seq, CreatedAt: now})
		}
	}
	return out
}

func (a *Adapter) Process(ctx context.Context, input llm.Input, rc *llm.ResponseChannel) llm.Response {
	genID := uuid.New()
	startedAt := time.Now()

	model := a.provider.GetModel(a.model)
	model.Tools = convertTools(input.ToolList)
	cs := model.StartChat()

	parts := make([]genai.Part, 0, len(input.Messages))
	for _, m := range input.Messages {
		parts = append(parts, genai.Text(fmt.Sprintf("[%s @ %v] %s", m.Role, m.CreatedAt.Local(), m.Content)))
	}
	iter := cs.SendMessageStream(ctx, parts...)

	var buf []llm.Delta
	var seq uint
	ticker := time.NewTicker(a.cfg.DeltaTickRate)
	defer ticker.Stop()
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

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

	err := a.provider.Chat(ctx, iter, func(resp *genai.GenerateContentResponse) error {
		buf = append(buf, convertBackward(resp, &seq)...)
		return nil
	})

	cancel()
	<-flusherDone
	drain()

	sendCtx, sendCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sendCancel()
	select {
	case <-sendCtx.Done():
	case *rc <- []llm.Delta{{Done: true, CreatedAt: time.Now()}}:
	}
	close(*rc)

	if err != nil {
		return llm.Response{ID: genID, StartedAt: startedAt, Error: fmt.Errorf("gemini chat failed: %w", err)}
	}
	return llm.Response{ID: genID, StartedAt: startedAt, Done: true}
}
