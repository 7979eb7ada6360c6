package config

import "time"

const (
	// Audio Constants
	DefaultSampleRate    = 48000
	DefaultChannelsMono  = 1
	DefaultFrameDuration = 20 * time.Millisecond
	DefaultFrameSamples  = DefaultSampleRate / 50
	DefaultOpusBitrate   = 32000

	// Service Defaults
	DefaultPort             = "8000"
	DefaultIntakeRatePerSec = 1.0
	DefaultOutcomeTopic     = "outbound-call-outcomes"
	DefaultHTTPReadTimeout  = 15 * time.Second
	DefaultHTTPWriteTimeout = 15 * time.Second
	DefaultHTTPIdleTimeout  = 60 * time.Second

	// Room Defaults
	DefaultRoomPrefix          = "call-"
	DefaultRoomEmptyTimeout    = 10 * time.Minute
	DefaultRoomMaxParticipants = 20

	// Call Defaults
	DefaultAgentName              = "outbound_cold_caller"
	DefaultAgentIdentityPrefix    = "agent-"
	DefaultHangupPollInterval     = 500 * time.Millisecond
	DefaultHangupStatusValue      = "hangup"
	DefaultCallStatusAttribute    = "sip.callStatus"
	DefaultParticipantJoinTimeout = 30 * time.Second
	DefaultScriptPath             = "script.txt"
	DefaultMaxConcurrentCalls     = 20
	DefaultHangupTimeout          = 5 * time.Second
)
