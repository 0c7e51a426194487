// Package gemini wraps google/generative-ai-go as the secondary LLM
// streaming provider behind the Mux, carried over from the teacher's
// pkg/assistant/providers/gemini.
package gemini

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/xpanvictor/voxgate/internal/config"
	"google.golang.org/api/option"
)

type Provider struct {
	client *genai.Client
}

func New(cfg config.GeminiConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Provider{client: client}, nil
}

func (p *Provider) GetModel(name string) *genai.GenerativeModel {
	return p.client.GenerativeModel(name)
}

// Chat drains iter, invoking fn per response chunk, tolerating the
// iterator's end-of-stream sentinels.
func (p *Provider) Chat(ctx context.Context, iter *genai.GenerateContentResponseIterator, fn func(*genai.GenerateContentResponse) error) error {
	for {
		resp, err := iter.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if strings.Contains(err.Error(), "no more items") || strings.Contains(err.Error(), "iterator stopped") {
				return nil
			}
			return fmt.Errorf("gemini stream error: %w", err)
		}
		if err := fn(resp); err != nil {
			return err
		}
	}
}
