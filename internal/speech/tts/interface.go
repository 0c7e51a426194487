// Package tts defines the Synthesizer capability interface and the
// sentence-boundary streaming pipeline that turns LLM text deltas into
// PCM16 audio frames for egress (spec §4.5).
package tts

import (
	"context"
	"io"
)

// Synthesizer is the minimal capability a TTS engine adapter provides:
// render one fragment of text to a PCM16 audio stream. Implementations
// are pooled by internal/enginepool and must be safe to call from a
// single goroutine at a time (the pool never shares a leased slot
// concurrently).
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voiceKey string) (io.ReadCloser, error)
	Close() error
	Healthy(ctx context.Context) bool
}
