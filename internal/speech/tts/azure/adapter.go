// Package azure implements a Synthesizer adapter against an Azure
// Speech-compatible SSML synthesis REST endpoint.
package azure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// Synthesizer implements tts.Synthesizer. One instance is built per
// pooled engine slot; the pool guarantees exclusive access.
type Synthesizer struct {
	endpoint string
	key      string
	region   string
	http     *http.Client
	logger   *Logger.Logger
}

func New(cfg config.AzureSpeechConfig, logger *Logger.Logger) *Synthesizer {
	return &Synthesizer{
		endpoint: fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region),
		key:      cfg.Key,
		region:   cfg.Region,
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Synthesize renders text with voiceKey (an Azure voice short name,
// e.g. "en-US-JennyNeural"; empty falls back to a default voice) and
// returns a stream of raw PCM16 mono 16kHz audio.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voiceKey string) (io.ReadCloser, error) {
	if voiceKey == "" {
		voiceKey = "en-US-JennyNeural"
	}
	ssml := fmt.Sprintf(
		`<speak version="1.0" xml:lang="en-US"><voice name="%s">%s</voice></speak>`,
		voiceKey, escapeSSML(text),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(ssml))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("Ocp-Apim-Subscription-Key", s.key)
	req.Header.Set("X-Microsoft-OutputFormat", "raw-16khz-16bit-mono-pcm")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("speech synthesis returned status %d: %s", resp.StatusCode, string(raw))
	}
	return resp.Body, nil
}

func (s *Synthesizer) Close() error { return nil }

func (s *Synthesizer) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("https://%s.tts.speech.microsoft.com/", s.region), nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func escapeSSML(text string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return replacer.Replace(text)
}
