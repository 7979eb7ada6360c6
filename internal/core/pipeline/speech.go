package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// SpeechHandle tracks one agent utterance from generation to the end of playout.
type SpeechHandle struct {
	id                 string
	text               string
	allowInterruptions bool

	generated   chan struct{}
	done        chan struct{}
	interrupted atomic.Bool
	genOnce     sync.Once
	doneOnce    sync.Once
}

func newSpeechHandle(text string, allowInterruptions bool) *SpeechHandle {
	h := &SpeechHandle{
		id:                 uuid.NewString(),
		text:               text,
		allowInterruptions: allowInterruptions,
		generated:          make(chan struct{}),
		done:               make(chan struct{}),
	}
	h.markGenerated()
	return h
}

func (h *SpeechHandle) ID() string { return h.id }

func (h *SpeechHandle) Text() string { return h.text }

func (h *SpeechHandle) AllowInterruptions() bool { return h.allowInterruptions }

// Generated is closed once the reply text exists.
func (h *SpeechHandle) Generated() <-chan struct{} { return h.generated }

// Done is closed once playout finished or was interrupted.
func (h *SpeechHandle) Done() <-chan struct{} { return h.done }

func (h *SpeechHandle) IsDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *SpeechHandle) Interrupted() bool { return h.interrupted.Load() }

// Interrupt stops playout at the next frame boundary. Uninterruptible speech ignores it.
func (h *SpeechHandle) Interrupt() bool {
	if !h.allowInterruptions || h.IsDone() {
		return false
	}
	h.interrupted.Store(true)
	return true
}

// WaitForPlayout blocks until playout ends or ctx is done.
func (h *SpeechHandle) WaitForPlayout(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *SpeechHandle) markGenerated() {
	h.genOnce.Do(func() { close(h.generated) })
}

func (h *SpeechHandle) markDone() {
	h.doneOnce.Do(func() { close(h.done) })
}

// NewSpeechHandle creates an already generated handle for speech produced by another Session implementation.
func NewSpeechHandle(text string, allowInterruptions bool) *SpeechHandle {
	h := newSpeechHandle(text, allowInterruptions)
	h.markGenerated()
	return h
}

// Finish marks playout complete.
func (h *SpeechHandle) Finish() { h.markDone() }
