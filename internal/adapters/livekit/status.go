package livekit

import (
	"context"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
)

// Reasons reported on a hangup signal.
const (
	HangupReasonStatus       = "call_status_hangup"
	HangupReasonDisconnected = "participant_disconnected"
)

// ParticipantView is the read side of a room the status sources need.
type ParticipantView interface {
	ParticipantAttribute(identity, key string) (string, bool)
	ParticipantLeft(identity string) <-chan struct{}
	WatchAttributes(identity string) (<-chan map[string]string, func())
}

// StatusSource reports when the callee has hung up. The channel yields at most one reason.
type StatusSource interface {
	Hangups(ctx context.Context, identity string) <-chan string
}

// PollingStatusSource checks the call-status attribute on a fixed interval.
type PollingStatusSource struct {
	view     ParticipantView
	key      string
	value    string
	interval time.Duration
}

func NewPollingStatusSource(view ParticipantView, key, value string, interval time.Duration) *PollingStatusSource {
	return &PollingStatusSource{view: view, key: key, value: value, interval: interval}
}

func (s *PollingStatusSource) Hangups(ctx context.Context, identity string) <-chan string {
	out := make(chan string, 1)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		left := s.view.ParticipantLeft(identity)
		for {
			select {
			case <-ctx.Done():
				return
			case <-left:
				out <- HangupReasonDisconnected
				return
			case <-ticker.C:
				if v, ok := s.view.ParticipantAttribute(identity, s.key); ok && v == s.value {
					out <- HangupReasonStatus
					return
				}
			}
		}
	}()
	return out
}

// EventStatusSource reacts to pushed attribute changes.
type EventStatusSource struct {
	view  ParticipantView
	key   string
	value string
}

func NewEventStatusSource(view ParticipantView, key, value string) *EventStatusSource {
	return &EventStatusSource{view: view, key: key, value: value}
}

func (s *EventStatusSource) Hangups(ctx context.Context, identity string) <-chan string {
	out := make(chan string, 1)
	changes, cancel := s.view.WatchAttributes(identity)
	go func() {
		defer cancel()
		// the status may have flipped before the watch was registered
		if v, ok := s.view.ParticipantAttribute(identity, s.key); ok && v == s.value {
			out <- HangupReasonStatus
			return
		}
		left := s.view.ParticipantLeft(identity)
		for {
			select {
			case <-ctx.Done():
				return
			case <-left:
				out <- HangupReasonDisconnected
				return
			case changed := <-changes:
				if v, ok := changed[s.key]; ok && v == s.value {
					out <- HangupReasonStatus
					return
				}
			}
		}
	}()
	return out
}

// NewStatusSource picks the implementation selected by configuration.
func NewStatusSource(view ParticipantView, cfg config.CallConfig) StatusSource {
	if cfg.StatusMode == config.StatusModeEvent {
		return NewEventStatusSource(view, cfg.CallStatusAttribute, cfg.HangupStatusValue)
	}
	return NewPollingStatusSource(view, cfg.CallStatusAttribute, cfg.HangupStatusValue, cfg.HangupPollInterval)
}
