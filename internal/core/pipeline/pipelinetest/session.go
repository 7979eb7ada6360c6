// Package pipelinetest provides an in-memory pipeline.Session for tests.
package pipelinetest

import (
	"context"
	"sync"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
)

// Reply records one GenerateReply call.
type Reply struct {
	Instructions string
	Handle       *pipeline.SpeechHandle
}

// Session is a pipeline.Session that records replies instead of speaking them.
// Speech finishes immediately unless HoldPlayout is set.
type Session struct {
	StartErr    error
	ReplyErr    error
	HoldPlayout bool
	// StartHook runs inside Start before it returns.
	StartHook func(ctx context.Context) error

	mu      sync.Mutex
	agent   pipeline.Agent
	room    pipeline.MediaRoom
	replies []Reply
	current *pipeline.SpeechHandle
	started bool
	closed  bool
}

func (s *Session) Start(ctx context.Context, room pipeline.MediaRoom, agent pipeline.Agent) error {
	if s.StartHook != nil {
		if err := s.StartHook(ctx); err != nil {
			return err
		}
	}
	if s.StartErr != nil {
		return s.StartErr
	}
	s.mu.Lock()
	s.started = true
	s.room = room
	s.agent = agent
	s.mu.Unlock()
	agent.Attach(s)
	return nil
}

func (s *Session) GenerateReply(_ context.Context, instructions string, opts ...pipeline.ReplyOption) (*pipeline.SpeechHandle, error) {
	if s.ReplyErr != nil {
		return nil, s.ReplyErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, pipeline.ErrSessionClosed
	}

	h := pipeline.NewSpeechHandle(instructions, pipeline.AllowInterruptions(true, opts...))
	if !s.HoldPlayout {
		h.Finish()
	}
	s.replies = append(s.replies, Reply{Instructions: instructions, Handle: h})
	s.current = h
	return h, nil
}

func (s *Session) CurrentSpeech() *pipeline.SpeechHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.IsDone() {
		return nil
	}
	return s.current
}

// SetCurrentSpeech makes h the speech reported as playing.
func (s *Session) SetCurrentSpeech(h *pipeline.SpeechHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = h
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, r := range s.replies {
		r.Handle.Finish()
	}
	return nil
}

// Replies returns the instructions passed to GenerateReply, in order.
func (s *Session) Replies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.replies))
	for _, r := range s.replies {
		out = append(out, r.Instructions)
	}
	return out
}

func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Agent returns the agent passed to Start.
func (s *Session) Agent() pipeline.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// WaitReply blocks until at least n replies were requested, then returns the n-th (1-based).
func (s *Session) WaitReply(ctx context.Context, n int) (Reply, error) {
	for {
		s.mu.Lock()
		if len(s.replies) >= n {
			r := s.replies[n-1]
			s.mu.Unlock()
			return r, nil
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
