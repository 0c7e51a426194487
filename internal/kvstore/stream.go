package kvstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is a single call-lifecycle event, modeling the
// append_event/read_events shape from original_source's shared_ws.py
// and manager.py. The gateway appends DTMF validation-completion
// events (dtmf.PublishOutcome); session transitions and engine
// failures are not written to the stream.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Stream is a thin wrapper over a Redis stream key, used per-session
// (key = "voxgate:stream:<session-id>").
type Stream struct {
	client *Client
	key    string
}

func (c *Client) Stream(sessionID string) *Stream {
	return &Stream{client: c, key: "voxgate:stream:" + sessionID}
}

// Append adds an event to the stream and trims it to the most recent
// 1000 entries so a long-lived session doesn't grow the key unbounded.
// It returns only an error; the entry id Redis assigns is discarded.
func (s *Stream) Append(ctx context.Context, ev Event) error {
	_, err := s.append(ctx, ev)
	return err
}

func (s *Stream) append(ctx context.Context, ev Event) (string, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	rdb := s.client.client()
	id, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", s.client.classify(err)
	}
	return id, nil
}

// Read returns the most recent limit events (every retained event when
// limit <= 0), in chronological order.
func (s *Stream) Read(ctx context.Context, limit int64) ([]Event, error) {
	rdb := s.client.client()
	msgs, err := rdb.XRange(ctx, s.key, "-", "+").Result()
	if err != nil {
		return nil, s.client.classify(err)
	}
	if limit > 0 && int64(len(msgs)) > limit {
		msgs = msgs[int64(len(msgs))-limit:]
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["payload"].(string)
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// ReadFrom blocks for up to block waiting for entries newer than
// lastID (spec §6's read_events(stream_key, last_id, block_ms,
// count)); an empty lastID reads from the beginning of the stream.
// It returns an empty, non-error slice on timeout — the caller
// decides whether that means "give up" or "poll again".
func (s *Stream) ReadFrom(ctx context.Context, lastID string, block time.Duration, count int64) ([]Event, error) {
	if lastID == "" {
		lastID = "0"
	}
	rdb := s.client.client()
	res, err := rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.key, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, s.client.classify(err)
	}

	var out []Event
	for _, stream := range res {
		for _, m := range stream.Messages {
			raw, ok := m.Values["payload"].(string)
			if !ok {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				continue
			}
			out = append(out, ev)
		}
	}
	return out, nil
}
