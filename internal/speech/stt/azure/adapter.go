// Package azure implements an STT recognizer adapter against an Azure
// Speech-compatible HTTP transcription endpoint. The WAV-framing and
// multipart-upload idiom is carried over from the teacher's
// pkg/io/stt/whisper.WhisperClient; the push-stream wrapper is new,
// grounded on the teacher's voice_stream_system.VSS periodic-flush
// pattern (2s processTicker, overflow-drop-oldest buffering).
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/internal/speech/stt"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Recognizer implements stt.RecognizerWithPushStream against an Azure
// Speech batch transcription REST endpoint.
type Recognizer struct {
	endpoint string
	key      string
	region   string
	http     *http.Client
	logger   *Logger.Logger
}

func New(cfg config.AzureSpeechConfig, logger *Logger.Logger) *Recognizer {
	return &Recognizer{
		endpoint: fmt.Sprintf("https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1", cfg.Region),
		key:      cfg.Key,
		region:   cfg.Region,
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// TranscribeBatch uploads a complete PCM16 buffer as a WAV payload and
// returns the committed transcript.
func (r *Recognizer) TranscribeBatch(ctx context.Context, pcm16 []byte, sampleRate int) (string, error) {
	wav := pcm16ToWAV(pcm16, sampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"?language=en-US&format=simple", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Ocp-Apim-Subscription-Key", r.key)

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech service returned status %d: %s", resp.StatusCode, string(raw))
	}

	var tr transcriptionResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		r.logger.Warnw("non-JSON transcription response, treating as plain text", "err", err)
		return string(raw), nil
	}
	return tr.Text, nil
}

func (r *Recognizer) Close() error { return nil }

func (r *Recognizer) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("https://%s.stt.speech.microsoft.com/", r.region), nil)
	if err != nil {
		return false
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// NewPushStream opens an incremental recognition session that buffers
// incoming PCM16 and periodically flushes it through TranscribeBatch,
// emitting a partial event per flush and a final event once no audio
// has been written for silenceInterval — the same cadence the teacher's VSS processTicker (2s)
// and listeningTimer (silence-triggered) use.
func (r *Recognizer) NewPushStream(ctx context.Context) (stt.PushStream, error) {
	ps := &pushStream{
		recognizer: r,
		events:     make(chan stt.Event, 32),
		done:       make(chan struct{}),
	}
	go ps.run(ctx)
	return ps, nil
}

const (
	flushInterval   = 2 * time.Second
	silenceInterval = 900 * time.Millisecond
	maxBufferBytes  = 32000 * 10 // ~10s of 16kHz mono 16-bit audio
)

type pushStream struct {
	recognizer *Recognizer

	mu         sync.Mutex
	buf        []byte
	lastWrite  time.Time
	aggregated string

	events chan stt.Event
	done   chan struct{}
	closed bool
}

func (ps *pushStream) Write(pcm16 []byte) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return fmt.Errorf("push stream closed")
	}
	ps.buf = append(ps.buf, pcm16...)
	if len(ps.buf) > maxBufferBytes {
		overflow := len(ps.buf) - maxBufferBytes
		ps.buf = ps.buf[overflow:]
	}
	ps.lastWrite = time.Now()
	return nil
}

func (ps *pushStream) Events() <-chan stt.Event { return ps.events }

func (ps *pushStream) Close() error {
	ps.mu.Lock()
	if ps.closed {
		ps.mu.Unlock()
		return nil
	}
	ps.closed = true
	ps.mu.Unlock()
	close(ps.done)
	return nil
}

func (ps *pushStream) run(ctx context.Context) {
	defer close(ps.events)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ps.done:
			return
		case <-ticker.C:
			ps.flush(ctx)
		}
	}
}

func (ps *pushStream) flush(ctx context.Context) {
	ps.mu.Lock()
	if len(ps.buf) == 0 {
		var final *stt.Event
		if ps.aggregated != "" && time.Since(ps.lastWrite) >= silenceInterval {
			final = &stt.Event{Text: ps.aggregated, IsFinal: true, At: time.Now()}
			ps.aggregated = ""
		}
		ps.mu.Unlock()
		if final != nil {
			select {
			case ps.events <- *final:
			default:
			}
		}
		return
	}
	chunk := ps.buf
	ps.buf = nil
	silentLong := time.Since(ps.lastWrite) >= silenceInterval
	ps.mu.Unlock()

	text, err := ps.recognizer.TranscribeBatch(ctx, chunk, 16000)
	if err != nil {
		ps.recognizer.logger.Warnw("push-stream chunk transcription failed", "err", err)
		return
	}
	if text == "" {
		return
	}

	ps.mu.Lock()
	ps.aggregated += " " + text
	agg := ps.aggregated
	ps.mu.Unlock()

	ev := stt.Event{Text: agg, IsFinal: silentLong, At: time.Now()}
	select {
	case ps.events <- ev:
	default:
	}
	if silentLong {
		ps.mu.Lock()
		ps.aggregated = ""
		ps.mu.Unlock()
	}
}

func pcm16ToWAV(pcm []byte, sampleRate int) []byte {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8
	wavSize := 44 + len(pcm)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	writeUint32LE(header[4:8], uint32(wavSize-8))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	writeUint32LE(header[16:20], 16)
	writeUint16LE(header[20:22], 1)
	writeUint16LE(header[22:24], uint16(numChannels))
	writeUint32LE(header[24:28], uint32(sampleRate))
	writeUint32LE(header[28:32], uint32(byteRate))
	writeUint16LE(header[32:34], uint16(blockAlign))
	writeUint16LE(header[34:36], uint16(bitsPerSample))
	copy(header[36:40], "data")
	writeUint32LE(header[40:44], uint32(len(pcm)))

	out := make([]byte, 0, wavSize)
	out = append(out, header...)
	out = append(out, pcm...)
	return out
}

func writeUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
