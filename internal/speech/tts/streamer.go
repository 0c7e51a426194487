package tts

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xpanvictor/voxgate/internal/apperr"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// Config tunes the sentence-boundary flush heuristics. Defaults mirror
// the teacher's pkg/io/tts/piper/stream.Streamer defaults, adjusted to
// spec §4.5/§4.6's strict terminator set and whitespace invariant.
type Config struct {
	MaxChars   int
	MinChars   int
	CommaDelay time.Duration
	IdleFlush  time.Duration
	ForceFlush time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxChars:   120,
		MinChars:   15,
		CommaDelay: 300 * time.Millisecond,
		IdleFlush:  5 * time.Second,
		ForceFlush: 8 * time.Second,
	}
}

// terminators is the strict sentence-terminator set spec §4.6
// specifies for turn-router fragment flushing, shared here since TTS
// flush boundaries follow the same rule.
var terminators = []rune{'.', '!', '?', ';', '。', '！', '？', '；', '\n'}

func endsWithTerminator(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(strings.TrimRight(s, " "))
	if len(r) == 0 {
		return false
	}
	last := r[len(r)-1]
	for _, t := range terminators {
		if last == t {
			return true
		}
	}
	return false
}

// Fragment is one flushed, already-synthesized chunk of speech text,
// padded per the whitespace invariant (trimmed content plus exactly
// one trailing space) so concatenating fragments in order reproduces
// the full turn text.
type Fragment struct {
	Text  string
	Audio []byte
}

// Streamer consumes LLM text deltas, buffers them into sentence-sized
// fragments, synthesizes each fragment via a pooled Synthesizer slot,
// and sends each fragment with its PCM audio on the returned channel. It is
// grounded on the teacher's piper/stream.Streamer concurrency idiom
// (mutex-guarded strings.Builder, per-flush goroutine, ticker-driven
// time checks) adapted to this spec's terminator set and a session-
// scoped cancel signal for barge-in (spec §4.7). Streamer itself holds
// no Synthesizer: a process builds one Streamer for the whole
// gateway, and each call hands in the pooled engine slot leased for
// that turn's session.
type Streamer struct {
	cfg    Config
	logger *Logger.Logger
}

func NewStreamer(cfg Config, logger *Logger.Logger) *Streamer {
	if cfg.MaxChars == 0 {
		cfg = DefaultConfig()
	}
	return &Streamer{cfg: cfg, logger: logger}
}

// Stream runs until deltas closes, ctx is canceled, or cancel fires
// (barge-in). It returns a channel of Fragments in flush order; each
// fragment's Audio has already been synthesized by the time it is
// sent, so the egress writer never blocks on the provider. synth is
// the pooled engine slot leased for this turn's session.
func (s *Streamer) Stream(ctx context.Context, synth Synthesizer, voiceKey string, deltas <-chan string, cancel <-chan struct{}) <-chan Fragment {
	out := make(chan Fragment, 8)

	// pending carries flushed text to a single synthesis worker so
	// fragments reach out in flush order (spec testable property 2):
	// synthesis still runs off the buffering goroutine, but one
	// fragment completes before the next one's audio is sent.
	pending := make(chan string, 16)
	synthDone := make(chan struct{})

	go func() {
		defer close(synthDone)
		defer close(out)
		for text := range pending {
			synthCtx, cancelSynth := context.WithTimeout(ctx, 30*time.Second)
			rc, err := synth.Synthesize(synthCtx, text, voiceKey)
			if err != nil {
				s.logger.Warnw("tts synthesis failed", "err", apperr.Provider("tts", err))
				cancelSynth()
				continue
			}
			audio, err := io.ReadAll(rc)
			rc.Close()
			cancelSynth()
			if err != nil {
				s.logger.Warnw("tts read failed", "err", err)
				continue
			}
			select {
			case out <- Fragment{Text: text + " ", Audio: audio}:
			case <-ctx.Done():
				return
			case <-cancel:
				return
			}
		}
	}()

	go func() {
		defer close(pending)

		var mu sync.Mutex
		var buf strings.Builder
		lastAdd := time.Now()
		lastFlush := time.Now()

		flush := func(force bool) {
			mu.Lock()
			text := strings.TrimSpace(buf.String())
			if force && len(text) < s.cfg.MinChars {
				// Too short for a timer-driven flush: keep buffering.
				mu.Unlock()
				return
			}
			buf.Reset()
			lastFlush = time.Now()
			mu.Unlock()

			if text == "" {
				return
			}
			select {
			case pending <- text:
			case <-ctx.Done():
			case <-cancel:
			}
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				flush(true)
				return
			case <-cancel:
				// Barge-in: drop whatever is buffered, do not flush it.
				return
			case delta, ok := <-deltas:
				if !ok {
					flush(false)
					return
				}
				mu.Lock()
				buf.WriteString(delta)
				current := buf.String()
				lastAdd = time.Now()
				mu.Unlock()
				if endsWithTerminator(current) || len(current) >= s.cfg.MaxChars {
					flush(false)
				}
			case <-ticker.C:
				mu.Lock()
				sinceAdd := time.Since(lastAdd)
				sinceFlush := time.Since(lastFlush)
				hasComma := strings.HasSuffix(strings.TrimRight(buf.String(), " "), ",")
				mu.Unlock()
				switch {
				case sinceAdd >= s.cfg.IdleFlush:
					flush(true)
				case hasComma && sinceAdd >= s.cfg.CommaDelay:
					flush(false)
				case sinceFlush >= s.cfg.ForceFlush:
					flush(true)
				}
			}
		}
	}()

	return out
}
