// Package ollama wraps ollamafarm as the local/offline dev LLM
// provider, carried over from the teacher's
// pkg/assistant/providers/ollama.
package ollama

import (
	"context"
	"fmt"

	"github.com/ollama/ollama/api"
	"github.com/presbrey/ollamafarm"
	"github.com/xpanvictor/voxgate/internal/config"
)

type Provider struct {
	farm *ollamafarm.Farm
}

func New(cfg config.OllamaConfig) *Provider {
	farm := ollamafarm.New()
	if cfg.BaseURL != "" {
		if err := farm.RegisterURL(cfg.BaseURL, nil); err != nil {
			// best-effort: an unreachable dev server shouldn't block startup
		}
	}
	return &Provider{farm: farm}
}

func (p *Provider) Chat(ctx context.Context, req api.ChatRequest, fn api.ChatResponseFunc) error {
	client := p.farm.First(&ollamafarm.Where{Offline: false})
	if client == nil {
		return fmt.Errorf("no ollama server available for model %q", req.Model)
	}
	return client.Client().Chat(ctx, &req, fn)
}
