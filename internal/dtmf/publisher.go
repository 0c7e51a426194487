package dtmf

import (
	"context"
	"time"

	"github.com/xpanvictor/voxgate/internal/kvstore"
)

// PublishOutcome appends a dtmf_validation completion event to the
// session's call-lifecycle stream once the gate opens (spec §4.9's
// "publish a completion event to the KV stream" transition, testable
// property 7 / E5). Per original_source's test vectors and spec E6, a
// mismatch publishes nothing — only a terminal match is recorded, so
// this is only ever called when matched is true.
func PublishOutcome(ctx context.Context, sessionID string, stream *kvstore.Stream) error {
	return stream.Append(ctx, kvstore.Event{
		Type:      "dtmf_validation",
		SessionID: sessionID,
		Data:      map[string]any{"validation_status": "completed"},
		At:        time.Now(),
	})
}

// WaitForValidationCompletion blocks on the call's KV stream for the
// dtmf_validation completion event PublishOutcome appends (spec
// §4.9), so a caller outside the media handler (an escalation tool, a
// dashboard action) can await identity confirmation without polling
// GateOpen itself. It returns false, nil if timeout elapses with no
// match rather than treating a timeout as an error.
func WaitForValidationCompletion(ctx context.Context, kv *kvstore.Client, callID string, timeout time.Duration) (bool, error) {
	events, err := kv.Stream(callID).ReadFrom(ctx, "0", timeout, 0)
	if err != nil {
		return false, err
	}
	for _, ev := range events {
		if ev.Type != "dtmf_validation" {
			continue
		}
		if status, _ := ev.Data["validation_status"].(string); status == "completed" {
			return true, nil
		}
	}
	return false, nil
}
