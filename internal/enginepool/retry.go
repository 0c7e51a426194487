package enginepool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

// TaskTypeRebuildVoice is the asynq task type for a degraded-pool
// recovery attempt: when a health-check sweep discards an engine, the
// pool enqueues a background rebuild instead of leaving the slot empty
// until the next live Acquire (an Acquire whose factory call fails
// returns a Provider error and enqueues nothing), grounded on the teacher's
// internal/domains/scheduler.AsynqSchedulerService wiring.
const TaskTypeRebuildVoice = "enginepool:rebuild_voice"

type rebuildPayload struct {
	Pool     string `json:"pool"`
	VoiceKey string `json:"voice_key"`
}

// RetryScheduler enqueues and handles engine-rebuild jobs with asynq's
// built-in exponential backoff, so transient provider outages recover
// without a session-path retry loop.
type RetryScheduler struct {
	client *asynq.Client
	logger *Logger.Logger
}

func NewRetryScheduler(redisAddr, redisPassword string, redisDB int, logger *Logger.Logger) *RetryScheduler {
	return &RetryScheduler{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword, DB: redisDB}),
		logger: logger,
	}
}

// ScheduleWarmRebuild enqueues a best-effort background warm rebuild
// for a voice key, retried up to 5 times with asynq's default backoff.
func (r *RetryScheduler) ScheduleWarmRebuild(poolName, voiceKey string) error {
	payload, err := json.Marshal(rebuildPayload{Pool: poolName, VoiceKey: voiceKey})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeRebuildVoice, payload)
	_, err = r.client.Enqueue(task, asynq.MaxRetry(5), asynq.Timeout(10*time.Second), asynq.Queue("default"))
	return err
}

func (r *RetryScheduler) Close() error { return r.client.Close() }

// RegisterHandler wires a warm-rebuild handler for pool into mux; call
// once per pool that should be recovered in the background.
func RegisterHandler[T Engine](mux *asynq.ServeMux, pool *Pool[T], logger *Logger.Logger) {
	mux.HandleFunc(TaskTypeRebuildVoice, func(ctx context.Context, t *asynq.Task) error {
		var p rebuildPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("invalid rebuild payload: %w", err)
		}
		if p.Pool != pool.name {
			return nil // not for this pool, let asynq route others separately
		}
		pool.WarmVoice(ctx, p.VoiceKey)
		logger.Infow("background engine rebuild complete", "pool", p.Pool, "voice", p.VoiceKey)
		return nil
	})
}
