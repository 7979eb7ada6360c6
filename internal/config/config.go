package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StatusMode selects how the controller learns about the participant's call status.
type StatusMode string

const (
	StatusModePoll  StatusMode = "poll"
	StatusModeEvent StatusMode = "event"
)

// LiveKitConfig holds LiveKit server configuration
type LiveKitConfig struct {
	ServerURL       string // LiveKit server WebSocket URL
	APIKey          string
	APISecret       string
	SIPTrunkID      string // outbound SIP trunk used for dial-out
	WebhookEnabled  bool
	RoomEmptyTTL    time.Duration
	MaxParticipants uint32
}

// CallConfig tunes the per-call supervision loop.
type CallConfig struct {
	AgentName              string
	AgentIdentityPrefix    string
	HangupPollInterval     time.Duration
	HangupStatusValue      string
	CallStatusAttribute    string
	ParticipantJoinTimeout time.Duration // zero waits indefinitely
	StatusMode             StatusMode
	ScriptPath             string
	MaxConcurrentCalls     int
}

// ModelConfig carries engine credentials and tuning for the conversational pipeline.
type ModelConfig struct {
	DeepgramAPIKey  string
	DeepgramBaseURL string
	STTModel        string
	STTLanguage     string
	STTEndpointing  time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	TTSModel      string
	TTSVoice      string
	TTSSpeed      float64

	GoogleAPIKey      string
	LLMModel          string
	LLMTemperature    float32
	LLMMaxTokens      int32
	LLMPresencePen    float32
	LLMFrequencyPen   float32
	MaxToolSteps      int
	MinInterruptWords int
	MinInterruptDur   time.Duration
}

// RedisConfig holds the optional Redis connection used for dispatch and the call registry.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host was configured.
func (c RedisConfig) Enabled() bool { return c.Host != "" }

// PubSubConfig holds the optional outcome topic.
type PubSubConfig struct {
	ProjectID string
	TopicName string
	PubID     string
}

// Enabled reports whether outcome publishing was configured.
func (c PubSubConfig) Enabled() bool { return c.ProjectID != "" && c.TopicName != "" }

// Config is the full service configuration.
type Config struct {
	Port             string
	LogEnv           string
	InstanceID       string
	APISecretKey     string
	IntakeRatePerSec float64

	TwilioAccountSID string
	TwilioAuthToken  string

	LiveKit LiveKitConfig
	Call    CallConfig
	Model   ModelConfig
	Redis   RedisConfig
	PubSub  PubSubConfig
}

// LoadFromEnv loads configuration from environment. .env is loaded by main before this runs.
func LoadFromEnv() *Config {
	return &Config{
		Port:             getEnvOrDefault("PORT", DefaultPort),
		LogEnv:           getEnvOrDefault("LOG_ENV", "development"),
		InstanceID:       getDynamicInstanceID(),
		APISecretKey:     getEnvOrDefault("API_SECRET_KEY", ""),
		IntakeRatePerSec: getEnvAsFloatOrDefault("INTAKE_RATE_PER_SEC", DefaultIntakeRatePerSec),

		TwilioAccountSID: getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),

		LiveKit: LiveKitConfig{
			ServerURL:       getEnvOrDefault("LIVEKIT_URL", ""),
			APIKey:          getEnvOrDefault("LIVEKIT_API_KEY", ""),
			APISecret:       getEnvOrDefault("LIVEKIT_API_SECRET", ""),
			SIPTrunkID:      getEnvOrDefault("SIP_OUTBOUND_TRUNK_ID", ""),
			WebhookEnabled:  getEnvAsBoolOrDefault("LIVEKIT_WEBHOOK_ENABLED", true),
			RoomEmptyTTL:    getEnvAsDurationOrDefault("ROOM_EMPTY_TIMEOUT", DefaultRoomEmptyTimeout),
			MaxParticipants: uint32(getEnvAsIntOrDefault("ROOM_MAX_PARTICIPANTS", DefaultRoomMaxParticipants)),
		},

		Call: CallConfig{
			AgentName:              getEnvOrDefault("AGENT_NAME", DefaultAgentName),
			AgentIdentityPrefix:    getEnvOrDefault("AGENT_IDENTITY_PREFIX", DefaultAgentIdentityPrefix),
			HangupPollInterval:     getEnvAsDurationOrDefault("HANGUP_POLL_INTERVAL", DefaultHangupPollInterval),
			HangupStatusValue:      getEnvOrDefault("HANGUP_STATUS_VALUE", DefaultHangupStatusValue),
			CallStatusAttribute:    getEnvOrDefault("CALL_STATUS_ATTRIBUTE", DefaultCallStatusAttribute),
			ParticipantJoinTimeout: getEnvAsDurationOrDefault("PARTICIPANT_JOIN_TIMEOUT", DefaultParticipantJoinTimeout),
			StatusMode:             StatusMode(strings.ToLower(getEnvOrDefault("STATUS_MODE", string(StatusModePoll)))),
			ScriptPath:             getEnvOrDefault("SCRIPT_PATH", DefaultScriptPath),
			MaxConcurrentCalls:     getEnvAsIntOrDefault("MAX_CONCURRENT_CALLS", DefaultMaxConcurrentCalls),
		},

		Model: ModelConfig{
			DeepgramAPIKey:  getEnvOrDefault("DEEPGRAM_API_KEY", ""),
			DeepgramBaseURL: getEnvOrDefault("DEEPGRAM_BASE_URL", "wss://api.deepgram.com"),
			STTModel:        getEnvOrDefault("STT_MODEL", "nova-3"),
			STTLanguage:     getEnvOrDefault("STT_LANGUAGE", "en-US"),
			STTEndpointing:  getEnvAsDurationOrDefault("STT_ENDPOINTING", 15*time.Millisecond),

			OpenAIAPIKey:  getEnvOrDefault("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnvOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
			TTSModel:      getEnvOrDefault("TTS_MODEL", "tts-1-hd"),
			TTSVoice:      getEnvOrDefault("TTS_VOICE", "alloy"),
			TTSSpeed:      getEnvAsFloatOrDefault("TTS_SPEED", 1.1),

			GoogleAPIKey:      getEnvOrDefault("GOOGLE_API_KEY", ""),
			LLMModel:          getEnvOrDefault("LLM_MODEL", "gemini-2.0-flash-001"),
			LLMTemperature:    float32(getEnvAsFloatOrDefault("LLM_TEMPERATURE", 0.7)),
			LLMMaxTokens:      int32(getEnvAsIntOrDefault("LLM_MAX_OUTPUT_TOKENS", 128)),
			LLMPresencePen:    float32(getEnvAsFloatOrDefault("LLM_PRESENCE_PENALTY", 0.5)),
			LLMFrequencyPen:   float32(getEnvAsFloatOrDefault("LLM_FREQUENCY_PENALTY", 0.5)),
			MaxToolSteps:      getEnvAsIntOrDefault("MAX_TOOL_STEPS", 2),
			MinInterruptWords: getEnvAsIntOrDefault("MIN_INTERRUPTION_WORDS", 2),
			MinInterruptDur:   getEnvAsDurationOrDefault("MIN_INTERRUPTION_DURATION", 300*time.Millisecond),
		},

		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", ""),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntOrDefault("REDIS_DB", 0),
		},

		PubSub: PubSubConfig{
			ProjectID: getEnvOrDefault("PUBSUB_PROJECT_ID", ""),
			TopicName: getEnvOrDefault("PUBSUB_TOPIC", DefaultOutcomeTopic),
			PubID:     getEnvOrDefault("PUBSUB_PUB_ID", ""),
		},
	}
}

// Validate checks the settings without which no call can be placed.
func (c *Config) Validate() error {
	var errs []error
	if c.LiveKit.ServerURL == "" {
		errs = append(errs, errors.New("LiveKit server URL is required"))
	}
	if c.LiveKit.APIKey == "" {
		errs = append(errs, errors.New("LiveKit API key is required"))
	}
	if c.LiveKit.APISecret == "" {
		errs = append(errs, errors.New("LiveKit API secret is required"))
	}
	if c.LiveKit.SIPTrunkID == "" {
		errs = append(errs, errors.New("SIP outbound trunk ID is required"))
	}
	if c.Call.HangupPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("hangup poll interval must be positive, got %s", c.Call.HangupPollInterval))
	}
	if c.Call.ParticipantJoinTimeout < 0 {
		errs = append(errs, fmt.Errorf("participant join timeout must not be negative, got %s", c.Call.ParticipantJoinTimeout))
	}
	switch c.Call.StatusMode {
	case StatusModePoll, StatusModeEvent:
	default:
		errs = append(errs, fmt.Errorf("unknown status mode %q", c.Call.StatusMode))
	}
	return errors.Join(errs...)
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault accepts Go durations ("500ms") or bare integers as milliseconds.
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getDynamicInstanceID prefers the hostname (pod name in Kubernetes) and falls back to a timestamp.
func getDynamicInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("outbound-caller-%d", time.Now().UnixNano())
}
