// Package app wires every collaborator the gateway needs into one
// explicit value, replacing the teacher's App struct (setupDependencies
// appending to package-level-ish shared state across a dozen methods)
// with a single constructor that fails fast if any dependency can't be
// built. Grounded on the teacher's internal/app/app.go's setup-step
// numbering and its App struct shape, trimmed to this gateway's scope.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/xpanvictor/voxgate/internal/authstub"
	"github.com/xpanvictor/voxgate/internal/callrecord"
	"github.com/xpanvictor/voxgate/internal/config"
	"github.com/xpanvictor/voxgate/internal/enginepool"
	"github.com/xpanvictor/voxgate/internal/gateway/bridge"
	"github.com/xpanvictor/voxgate/internal/gateway/browser"
	"github.com/xpanvictor/voxgate/internal/gateway/connmgr"
	"github.com/xpanvictor/voxgate/internal/gateway/media"
	"github.com/xpanvictor/voxgate/internal/kvstore"
	"github.com/xpanvictor/voxgate/internal/llm"
	"github.com/xpanvictor/voxgate/internal/llm/geminiadapter"
	"github.com/xpanvictor/voxgate/internal/llm/ollamaadapter"
	"github.com/xpanvictor/voxgate/internal/llm/openaiadapter"
	"github.com/xpanvictor/voxgate/internal/llm/providers/gemini"
	"github.com/xpanvictor/voxgate/internal/llm/providers/ollama"
	"github.com/xpanvictor/voxgate/internal/speech/stt"
	sttazure "github.com/xpanvictor/voxgate/internal/speech/stt/azure"
	"github.com/xpanvictor/voxgate/internal/speech/tts"
	ttsazure "github.com/xpanvictor/voxgate/internal/speech/tts/azure"
	"github.com/xpanvictor/voxgate/internal/tools"
	"github.com/xpanvictor/voxgate/internal/turn"
	"github.com/xpanvictor/voxgate/pkg/Logger"
)

const systemPrompt = "You are a helpful voice assistant speaking over a live audio channel. Keep replies short and conversational."

// App bundles every wired collaborator a gateway process needs. Every
// field is populated by New or the process fails to start — there is
// no lazily-initialized global any handler reaches around this struct
// to find.
type App struct {
	Config *config.Settings
	Logger *Logger.Logger

	KV         *kvstore.Client
	ConnMgr    *connmgr.Manager
	Bridge     *bridge.Bridge
	STTPool    *enginepool.Pool[stt.RecognizerWithPushStream]
	TTSPool    *enginepool.Pool[tts.Synthesizer]
	LLMMux     *llm.Mux
	Tools      tools.Registry
	Executor   *tools.Executor
	TTSStream  *tts.Streamer
	Router     *turn.Router
	CallRecord *callrecord.Store
	Auth       *authstub.Validator

	Browser *browser.Handler
	Media   *media.Handler

	sttRetry     *enginepool.RetryScheduler
	ttsRetry     *enginepool.RetryScheduler
	asynqServer  *asynq.Server
	cancelHealth context.CancelFunc
}

// New builds and wires every collaborator. Order matters: each step
// depends only on what's already been constructed, mirroring the
// teacher's numbered setupDependencies steps.
func New(cfg *config.Settings, logger *Logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	// 1. KV store (Redis) — everything downstream needs it for memory
	// persistence and the DTMF/call-lifecycle event stream.
	kv, err := kvstore.New(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("app: kvstore: %w", err)
	}
	a.KV = kv

	// 2. Connection manager + Thread Bridge.
	a.ConnMgr = connmgr.New(logger, 30*time.Minute)
	if err := a.ConnMgr.StartReaper(""); err != nil {
		return nil, fmt.Errorf("app: connmgr reaper: %w", err)
	}
	a.Bridge = bridge.New(logger)

	// 3. STT/TTS engine pools, backed by the Azure Speech adapters.
	a.STTPool = enginepool.New[stt.RecognizerWithPushStream]("stt", cfg.STTPool, func(ctx context.Context, voiceKey string) (stt.RecognizerWithPushStream, error) {
		return sttazure.New(cfg.AzureSpeech, logger), nil
	}, logger)
	a.TTSPool = enginepool.New[tts.Synthesizer]("tts", cfg.TTSPool, func(ctx context.Context, voiceKey string) (tts.Synthesizer, error) {
		return ttsazure.New(cfg.AzureSpeech, logger), nil
	}, logger)
	a.STTPool.WarmDedicated(context.Background(), "")
	a.TTSPool.WarmDedicated(context.Background(), "")

	// 3b. Background engine-rebuild scheduler: a health-check sweep
	// that discards a dead engine enqueues a warm rebuild via asynq
	// instead of leaving the slot cold until the next live Acquire.
	a.sttRetry = enginepool.NewRetryScheduler(cfg.Redis.Addr(), cfg.Redis.AccessKey, cfg.Redis.DB, logger)
	a.ttsRetry = enginepool.NewRetryScheduler(cfg.Redis.Addr(), cfg.Redis.AccessKey, cfg.Redis.DB, logger)
	a.STTPool.SetDiscardHook(func(voiceKey string) {
		if err := a.sttRetry.ScheduleWarmRebuild("stt", voiceKey); err != nil {
			logger.Warnw("failed to enqueue stt warm rebuild", "voice", voiceKey, "err", err)
		}
	})
	a.TTSPool.SetDiscardHook(func(voiceKey string) {
		if err := a.ttsRetry.ScheduleWarmRebuild("tts", voiceKey); err != nil {
			logger.Warnw("failed to enqueue tts warm rebuild", "voice", voiceKey, "err", err)
		}
	})

	rebuildMux := asynq.NewServeMux()
	enginepool.RegisterHandler(rebuildMux, a.STTPool, logger)
	enginepool.RegisterHandler(rebuildMux, a.TTSPool, logger)
	a.asynqServer = asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Redis.Addr(), Password: cfg.Redis.AccessKey, DB: cfg.Redis.DB},
		asynq.Config{Concurrency: 2},
	)
	go func() {
		if err := a.asynqServer.Run(rebuildMux); err != nil {
			logger.Errorw("engine-rebuild asynq server stopped", "err", err)
		}
	}()

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	a.cancelHealth = cancelHealth
	go a.STTPool.RunHealthChecks(healthCtx)
	go a.TTSPool.RunHealthChecks(healthCtx)

	// 4. LLM Mux: OpenAI (primary), Gemini (secondary), Ollama (local
	// dev fallback), selected by a static policy pointed at whichever
	// provider has usable credentials.
	mux, err := a.setupLLMMux()
	if err != nil {
		return nil, fmt.Errorf("app: llm mux: %w", err)
	}
	a.LLMMux = mux

	// 5. Tool registry/executor/catalog.
	a.Tools = tools.NewMemoryRegistry()
	if err := tools.RegisterDefaults(a.Tools, tools.DefaultPatients()); err != nil {
		return nil, fmt.Errorf("app: tools: %w", err)
	}
	a.Executor = tools.NewExecutor()

	// 6. TTS sentence-boundary streamer shared by every session. Each
	// call to Streamer.Stream is handed the pooled Synthesizer slot the
	// caller leased via the enginepool, so one process-wide Streamer
	// value carries no per-session state of its own.
	a.TTSStream = tts.NewStreamer(tts.DefaultConfig(), logger)

	// 7. Turn Router.
	a.Router = turn.New(a.LLMMux, a.Tools, a.Executor, a.TTSStream, logger, systemPrompt)

	// 8. Durable call-record sink (no-op if disabled in config).
	store, err := callrecord.Open(cfg.CallRecord)
	if err != nil {
		return nil, fmt.Errorf("app: callrecord: %w", err)
	}
	a.CallRecord = store

	// 9. Auth collaborator.
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = "dev-only-secret-change-in-production"
		logger.Warnw("jwt secret not configured, using an insecure development default")
	}
	a.Auth = authstub.New(secret)

	// 10. Transport handlers.
	a.Browser = browser.New(logger, a.ConnMgr, a.Bridge, a.STTPool, a.TTSPool, a.KV, a.Router, a.CallRecord)
	a.Media = media.New(logger, a.ConnMgr, a.Bridge, a.STTPool, a.TTSPool, a.KV, a.Router, a.CallRecord)

	return a, nil
}

func (a *App) setupLLMMux() (*llm.Mux, error) {
	defaultOpenAIModel := defaultModel(a.Config.AzureOpenAI.Deployment, "gpt-4o-mini")
	mux := llm.New(llm.StaticPolicy{Model: llm.SelectedModel{Provider: "openai", Name: defaultOpenAIModel}})

	llmCfg := llm.Cfg{}
	var available []llm.SelectedModel

	if a.Config.AzureOpenAI.Key != "" {
		openaiAdapter := openaiadapter.New(a.Config.AzureOpenAI, llmCfg)
		mux.Register("openai:"+defaultOpenAIModel, llm.AdapterPack{
			Adapter:      openaiAdapter,
			Name:         "openai",
			DefaultModel: llm.SelectedModel{Provider: "openai", Name: defaultOpenAIModel},
		})
		available = append(available, llm.SelectedModel{Provider: "openai", Name: defaultOpenAIModel})
	}

	if a.Config.Gemini.APIKey != "" {
		geminiProvider, err := gemini.New(a.Config.Gemini)
		if err != nil {
			a.Logger.Warnw("gemini provider unavailable, continuing without it", "err", err)
		} else {
			model := defaultModel(a.Config.Gemini.Model, "gemini-1.5-flash")
			geminiAdapter := geminiadapter.New(geminiProvider, model, llmCfg)
			mux.Register("gemini:"+model, llm.AdapterPack{
				Adapter:      geminiAdapter,
				Name:         "gemini",
				DefaultModel: llm.SelectedModel{Provider: "gemini", Name: model},
			})
			available = append(available, llm.SelectedModel{Provider: "gemini", Name: model})
		}
	}

	if a.Config.Ollama.BaseURL != "" {
		ollamaProvider := ollama.New(a.Config.Ollama)
		model := defaultModel(a.Config.Ollama.Model, "llama3.1")
		ollamaAdapter := ollamaadapter.New(ollamaProvider, model, llmCfg)
		mux.Register("ollama:"+model, llm.AdapterPack{
			Adapter:      ollamaAdapter,
			Name:         "ollama",
			DefaultModel: llm.SelectedModel{Provider: "ollama", Name: model},
		})
		available = append(available, llm.SelectedModel{Provider: "ollama", Name: model})
	}

	if len(mux.AdapterMap) == 0 {
		return nil, fmt.Errorf("no LLM provider configured: set azure_openai, gemini, or ollama credentials")
	}
	mux.Policy = llm.StaticPolicy{Model: available[0]}

	return mux, nil
}

func defaultModel(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return configured
}

// Shutdown releases every pooled/background collaborator. It is
// best-effort: it logs and continues past a single component's error
// instead of aborting the rest of the teardown.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Infow("shutting down application")

	if a.cancelHealth != nil {
		a.cancelHealth()
	}
	if a.asynqServer != nil {
		a.asynqServer.Shutdown()
	}
	if a.sttRetry != nil {
		if err := a.sttRetry.Close(); err != nil {
			a.Logger.Warnw("stt retry scheduler close failed", "err", err)
		}
	}
	if a.ttsRetry != nil {
		if err := a.ttsRetry.Close(); err != nil {
			a.Logger.Warnw("tts retry scheduler close failed", "err", err)
		}
	}

	a.ConnMgr.Close()

	if err := a.KV.Close(); err != nil {
		a.Logger.Warnw("kvstore close failed", "err", err)
	}
	if err := a.CallRecord.Close(); err != nil {
		a.Logger.Warnw("callrecord close failed", "err", err)
	}

	a.Logger.Infow("application shutdown complete")
	return nil
}
