package pipeline

import "time"

// Options tunes turn taking. Zero values are replaced by DefaultOptions.
type Options struct {
	TrackName                     string
	SampleRate                    int
	AllowInterruptions            bool
	DiscardAudioIfUninterruptible bool
	MinInterruptionDuration       time.Duration
	MinInterruptionWords          int
	MinEndpointingDelay           time.Duration
	MaxEndpointingDelay           time.Duration
	MaxToolSteps                  int
}

// DefaultOptions mirrors the tuning used for outbound cold calls.
func DefaultOptions() Options {
	return Options{
		TrackName:                     "agent-voice",
		SampleRate:                    48000,
		AllowInterruptions:            true,
		DiscardAudioIfUninterruptible: true,
		MinInterruptionDuration:       300 * time.Millisecond,
		MinInterruptionWords:          2,
		MinEndpointingDelay:           100 * time.Millisecond,
		MaxEndpointingDelay:           2 * time.Second,
		MaxToolSteps:                  2,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TrackName == "" {
		o.TrackName = d.TrackName
	}
	if o.SampleRate == 0 {
		o.SampleRate = d.SampleRate
	}
	if o.MinEndpointingDelay == 0 {
		o.MinEndpointingDelay = d.MinEndpointingDelay
	}
	if o.MaxEndpointingDelay == 0 {
		o.MaxEndpointingDelay = d.MaxEndpointingDelay
	}
	if o.MaxToolSteps == 0 {
		o.MaxToolSteps = d.MaxToolSteps
	}
	return o
}

type replyConfig struct {
	allowInterruptions *bool
}

// ReplyOption adjusts a single GenerateReply call.
type ReplyOption func(*replyConfig)

// WithAllowInterruptions overrides the session default for one reply.
func WithAllowInterruptions(allow bool) ReplyOption {
	return func(c *replyConfig) { c.allowInterruptions = &allow }
}

// AllowInterruptions resolves the interruptibility of one reply against a session default.
func AllowInterruptions(def bool, opts ...ReplyOption) bool {
	cfg := replyConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.allowInterruptions != nil {
		return *cfg.allowInterruptions
	}
	return def
}
