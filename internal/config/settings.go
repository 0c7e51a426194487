// Package config loads gateway settings from environment variables and
// an optional YAML overlay, following the teacher's viper-based
// Settings/Load convention (internal/config/settings.go).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// RedisConfig describes the KV store connection, including the
// credential-refresh fields original_source/src/redis/manager.py's
// AzureRedisManager exposes (AAD-issued access keys expire and must be
// refreshed proactively).
type RedisConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	AccessKey     string `mapstructure:"access_key"`
	DB            int    `mapstructure:"db"`
	SSL           bool   `mapstructure:"ssl"`
	UseCluster    bool   `mapstructure:"use_cluster"`
	RefreshMargin time.Duration `mapstructure:"refresh_margin"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AzureSpeechConfig configures the STT/TTS provider credentials.
type AzureSpeechConfig struct {
	Key    string `mapstructure:"key"`
	Region string `mapstructure:"region"`
}

// AzureOpenAIConfig configures the primary LLM streaming provider.
type AzureOpenAIConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Key        string `mapstructure:"key"`
	APIVersion string `mapstructure:"api_version"`
	Deployment string `mapstructure:"deployment"`
}

// GeminiConfig configures the secondary/fallback LLM provider.
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OllamaConfig configures the local/dev LLM provider.
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// ACSConfig configures the telephony (Azure Communication Services)
// media-channel side of session origination.
type ACSConfig struct {
	ConnectionString  string `mapstructure:"connection_string"`
	SourcePhoneNumber string `mapstructure:"source_phone_number"`
	Endpoint          string `mapstructure:"endpoint"`
	CallbackBaseURL   string `mapstructure:"callback_base_url"`
}

// AuthConfig configures the external auth collaborator's token
// verification. Full login/registration is out of this gateway's
// scope; this only lets the collaborator validate bearer tokens
// presented on session init.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// EnginePoolConfig sizes the bounded STT/TTS engine pools (spec §4.1).
type EnginePoolConfig struct {
	DedicatedSlots  int           `mapstructure:"dedicated_slots"`
	SharedSlots     int           `mapstructure:"shared_slots"`
	OverflowSlots   int           `mapstructure:"overflow_slots"`
	AcquireTimeout  time.Duration `mapstructure:"acquire_timeout"`
	HealthInterval  time.Duration `mapstructure:"health_interval"`
}

// CallRecordConfig configures the historical call-record sink.
type CallRecordConfig struct {
	DSN     string `mapstructure:"dsn"`
	Enabled bool   `mapstructure:"enabled"`
}

type Settings struct {
	Env           string            `mapstructure:"env"`
	Debug         bool              `mapstructure:"debug"`
	BaseURL       string            `mapstructure:"base_url"`
	Port          int               `mapstructure:"port"`
	Redis         RedisConfig       `mapstructure:"redis"`
	AzureSpeech   AzureSpeechConfig `mapstructure:"azure_speech"`
	AzureOpenAI   AzureOpenAIConfig `mapstructure:"azure_openai"`
	Gemini        GeminiConfig      `mapstructure:"gemini"`
	Ollama        OllamaConfig      `mapstructure:"ollama"`
	ACS           ACSConfig         `mapstructure:"acs"`
	Auth          AuthConfig        `mapstructure:"auth"`
	STTPool       EnginePoolConfig  `mapstructure:"stt_pool"`
	TTSPool       EnginePoolConfig  `mapstructure:"tts_pool"`
	CallRecord    CallRecordConfig  `mapstructure:"call_record"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", 8088)
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.refresh_margin", 60*time.Second)
	v.SetDefault("stt_pool.dedicated_slots", 4)
	v.SetDefault("stt_pool.shared_slots", 16)
	v.SetDefault("stt_pool.overflow_slots", 4)
	v.SetDefault("stt_pool.acquire_timeout", 3*time.Second)
	v.SetDefault("stt_pool.health_interval", 30*time.Second)
	v.SetDefault("tts_pool.dedicated_slots", 4)
	v.SetDefault("tts_pool.shared_slots", 16)
	v.SetDefault("tts_pool.overflow_slots", 4)
	v.SetDefault("tts_pool.acquire_timeout", 3*time.Second)
	v.SetDefault("tts_pool.health_interval", 30*time.Second)
}

// envBindings maps each config key to the literal, unprefixed
// environment variable name external deployments set (redis/Azure/ACS
// credentials, base URL), rather than viper's default GATEWAY_-
// prefixed AutomaticEnv behavior, which no real deployment sets.
var envBindings = map[string]string{
	"base_url":                 "BASE_URL",
	"redis.host":               "REDIS_HOST",
	"redis.port":               "REDIS_PORT",
	"redis.access_key":         "REDIS_ACCESS_KEY",
	"redis.use_cluster":        "REDIS_USE_CLUSTER",
	"azure_openai.endpoint":    "AZURE_OPENAI_ENDPOINT",
	"azure_openai.key":         "AZURE_OPENAI_KEY",
	"azure_openai.api_version": "AZURE_OPENAI_API_VERSION",
	"azure_openai.deployment":  "AZURE_OPENAI_CHAT_DEPLOYMENT_ID",
	"azure_speech.key":         "AZURE_SPEECH_KEY",
	"azure_speech.region":      "AZURE_SPEECH_REGION",
	"acs.connection_string":    "ACS_CONNECTION_STRING",
	"acs.source_phone_number":  "ACS_SOURCE_PHONE_NUMBER",
	"acs.endpoint":             "ACS_ENDPOINT",
	"gemini.api_key":           "GEMINI_API_KEY",
	"gemini.model":             "GEMINI_MODEL",
	"ollama.base_url":          "OLLAMA_BASE_URL",
	"ollama.model":             "OLLAMA_MODEL",
	"auth.jwt_secret":          "JWT_SECRET",
	"call_record.dsn":          "CALL_RECORD_DSN",
	"call_record.enabled":      "CALL_RECORD_ENABLED",
}

// Load builds Settings from (in increasing precedence): defaults, an
// optional YAML file (GATEWAY_CONFIG env var, or config_<env>.yaml on
// the conventional search path), and environment variables bound to
// their literal external names via envBindings — following the
// teacher's config.Load shape, but explicit BindEnv calls instead of
// AutomaticEnv's GATEWAY_-prefixed guesswork, since deployments set
// these names as-is.
func Load() (*Settings, error) {
	v := viper.New()
	defaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env var %s: %w", env, err)
		}
	}

	if cfgPath := os.Getenv("GATEWAY_CONFIG"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("config_" + genEnv(v))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/voxgate")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if settings.Env == "" {
		settings.Env = genEnv(v)
	}
	return &settings, nil
}

func genEnv(v *viper.Viper) string {
	env := v.GetString("env")
	if env == "" {
		return "dev"
	}
	return env
}
