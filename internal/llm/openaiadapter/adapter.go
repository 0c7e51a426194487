// Package openaiadapter is the primary LLM streaming provider,
// pointed at an Azure-OpenAI-compatible endpoint. It upgrades the
// teacher's pkg/assistant/openai.go (a single-shot, non-streaming
// Chat.Completions.New call) to the SDK's true SSE streaming variant,
// since spec §6's streaming contract requires incremental deltas, not
// a single complete response.
package openaiadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/internal/llm"
)

type Adapter struct {
	client openai.Client
	model  string
	cfg    llm.Cfg
}

func New(cfg config.AzureOpenAIConfig, llmCfg llm.Cfg) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.Key)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, option.WithQuery("api-version", cfg.APIVersion))
	}
	model := cfg.Deployment
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Adapter{
		client: openai.NewClient(opts...),
		model:  model,
		cfg:    llmCfg.withDefaults(),
	}
}

func convertMessages(msgs []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case llm.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, ""))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func convertTools(tools []llm.Tool) []openai.ChatCompletionToolParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any, len(t.ToolFunction.Properties))
		for name, p := range t.ToolFunction.Properties {
			entry := map[string]any{"type": p.Type, "description": p.Description}
			if len(p.Enum) > 0 {
				entry["enum"] = p.Enum
			}
			props[name] = entry
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters: openai.FunctionParameters{
					"type":       "object",
					"properties": props,
					"required":   t.ToolFunction.RequiredProps,
				},
			},
		})
	}
	return out
}

// Process streams the chat completion, batching deltas on a ticker the
// same way the teacher's adapters do, and always closes rc exactly
// once before returning — whether the stream completed, errored, or
// ctx was canceled.
func (a *Adapter) Process(ctx context.Context, input llm.Input, rc *llm.ResponseChannel) llm.Response {
	genID := uuid.New()
	startedAt := time.Now()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.model),
		Messages: convertMessages(input.Messages),
	}
	if tools := convertTools(input.ToolList); tools != nil {
		params.Tools = tools
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)

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
		snapshot := make([]llm.Delta, len(buf))
		copy(snapshot, buf)
		select {
		case *rc <- snapshot:
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

	var streamErr error
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		seq++
		d := llm.Delta{Index: seq, CreatedAt: time.Now()}
		d.Content = choice.Delta.Content
		for _, tc := range choice.Delta.ToolCalls {
			d.ToolCalls = append(d.ToolCalls, llm.ToolCall{
				Index:             uint(tc.Index),
				ID:                tc.ID,
				ToolName:          tc.Function.Name,
				ArgumentsFragment: tc.Function.Arguments,
				CreatedAt:         time.Now(),
			})
		}
		buf = append(buf, d)
	}
	if err := stream.Err(); err != nil {
		streamErr = fmt.Errorf("openai stream error: %w", err)
	}

	cancel()
	<-flusherDone
	drain()

	*rc <- []llm.Delta{{Done: true, CreatedAt: time.Now()}}
	close(*rc)

	if streamErr != nil {
		return llm.Response{ID: genID, StartedAt: startedAt, Error: streamErr}
	}
	return llm.Response{ID: genID, StartedAt: startedAt, Done: true}
}
