package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("LIVEKIT_URL", "wss://lk.example.com")
	t.Setenv("LIVEKIT_API_KEY", "key")
	t.Setenv("LIVEKIT_API_SECRET", "secret")
	t.Setenv("SIP_OUTBOUND_TRUNK_ID", "ST_123")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultAgentName, cfg.Call.AgentName)
	assert.Equal(t, 500*time.Millisecond, cfg.Call.HangupPollInterval)
	assert.Equal(t, "hangup", cfg.Call.HangupStatusValue)
	assert.Equal(t, "sip.callStatus", cfg.Call.CallStatusAttribute)
	assert.Equal(t, StatusModePoll, cfg.Call.StatusMode)
	assert.Equal(t, "gemini-2.0-flash-001", cfg.Model.LLMModel)
	assert.InDelta(t, 1.1, cfg.Model.TTSSpeed, 1e-9)
	assert.Equal(t, int32(128), cfg.Model.LLMMaxTokens)
	assert.Equal(t, uint32(20), cfg.LiveKit.MaxParticipants)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.PubSub.Enabled())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("HANGUP_POLL_INTERVAL", "250")
	t.Setenv("PARTICIPANT_JOIN_TIMEOUT", "0s")
	t.Setenv("STATUS_MODE", "EVENT")
	t.Setenv("REDIS_HOST", "redis")

	cfg := LoadFromEnv()
	assert.Equal(t, 250*time.Millisecond, cfg.Call.HangupPollInterval)
	assert.Equal(t, time.Duration(0), cfg.Call.ParticipantJoinTimeout)
	assert.Equal(t, StatusModeEvent, cfg.Call.StatusMode)
	assert.True(t, cfg.Redis.Enabled())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := &Config{Call: CallConfig{StatusMode: "push"}}
	err := cfg.Validate()
	require.Error(t, err)

	for _, want := range []string{
		"LiveKit server URL is required",
		"LiveKit API key is required",
		"LiveKit API secret is required",
		"SIP outbound trunk ID is required",
		"hangup poll interval must be positive",
		`unknown status mode "push"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}
