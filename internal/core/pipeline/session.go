package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrNotStarted     = errors.New("session not started")
	ErrEmptyReply     = errors.New("model returned an empty reply")
	errAlreadyStarted = errors.New("session already started")
)

const frameDuration = 20 * time.Millisecond

// AgentSession drives turns between the caller and the model: recognized speech becomes
// user turns, model replies are synthesized and played into the room, and tool calls are
// routed to the agent's dispatch table.
type AgentSession struct {
	listener Listener
	thinker  Thinker
	synth    Synthesizer
	opts     Options

	mu       sync.Mutex
	agent    Agent
	history  []Message
	speeches []*SpeechHandle
	playing  *SpeechHandle
	started  bool
	closed   bool

	sink      AudioSink
	stream    TranscriptStream
	playout   chan *SpeechHandle
	userTurns chan string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAgentSession wires the engines. Start from DefaultOptions when tuning opts.
func NewAgentSession(listener Listener, thinker Thinker, synth Synthesizer, opts Options) *AgentSession {
	return &AgentSession{
		listener:  listener,
		thinker:   thinker,
		synth:     synth,
		opts:      opts.withDefaults(),
		playout:   make(chan *SpeechHandle, 16),
		userTurns: make(chan string, 4),
	}
}

// Start bootstraps the pipeline. ctx bounds bootstrap only; the loops stop on Close.
func (s *AgentSession) Start(ctx context.Context, room MediaRoom, agent Agent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.started = true
	s.agent = agent
	s.mu.Unlock()

	agent.Attach(s)

	sink, err := room.PublishAudio(ctx, s.opts.TrackName)
	if err != nil {
		return fmt.Errorf("publish agent audio: %w", err)
	}

	stream, err := s.listener.Listen(ctx, s.opts.SampleRate)
	if err != nil {
		_ = sink.Close()
		return fmt.Errorf("open speech recognition: %w", err)
	}

	if err := ctx.Err(); err != nil {
		_ = stream.Close()
		_ = sink.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	s.sink = sink
	s.stream = stream
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(4)
	go s.pumpAudio(runCtx, room)
	go s.readTranscripts(runCtx)
	go s.runTurns(runCtx)
	go s.runPlayout(runCtx)

	logger.Info(ctx, "Agent session started", zap.String("track_name", s.opts.TrackName))
	return nil
}

// GenerateReply produces a reply steered by instructions. Replies requested this way never call tools.
func (s *AgentSession) GenerateReply(ctx context.Context, instructions string, opts ...ReplyOption) (*SpeechHandle, error) {
	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if !started {
		return nil, ErrNotStarted
	}

	allow := AllowInterruptions(s.opts.AllowInterruptions, opts...)
	handle, err := s.generate(ctx, instructions, false, allow)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, ErrEmptyReply
	}
	return handle, nil
}

// CurrentSpeech returns the newest speech that has not finished playing, or nil.
func (s *AgentSession) CurrentSpeech() *SpeechHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.speeches) - 1; i >= 0; i-- {
		if !s.speeches[i].IsDone() {
			return s.speeches[i]
		}
	}
	return nil
}

// History returns a copy of the conversation so far.
func (s *AgentSession) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Close stops every loop and releases the audio track and recognizer. Safe to call repeatedly.
func (s *AgentSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel, stream, sink := s.cancel, s.stream, s.sink
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		var errs []error
		if stream != nil {
			errs = append(errs, stream.Close())
		}
		s.wg.Wait()
		if sink != nil {
			errs = append(errs, sink.Close())
		}

		s.mu.Lock()
		for _, h := range s.speeches {
			h.markDone()
		}
		s.mu.Unlock()
		err = errors.Join(errs...)
	})
	return err
}

// generate runs the model until it produces a reply without tool calls or the tool step budget is spent.
// The returned handle is the last speech enqueued, nil when the model said nothing.
func (s *AgentSession) generate(ctx context.Context, instructions string, allowTools, allowInterruptions bool) (*SpeechHandle, error) {
	var last *SpeechHandle
	for step := 0; ; step++ {
		useTools := allowTools && step < s.opts.MaxToolSteps
		resp, err := s.thinker.Respond(ctx, s.buildTurn(instructions, useTools))
		if err != nil {
			return last, fmt.Errorf("generate reply: %w", err)
		}
		instructions = ""

		text := strings.TrimSpace(resp.Text)
		calls := resp.ToolCalls
		if !useTools {
			calls = nil
		}
		if text != "" || len(calls) > 0 {
			s.appendHistory(Message{Role: RoleAssistant, Text: text, ToolCalls: calls})
		}
		if text != "" {
			last = s.enqueueSpeech(text, allowInterruptions)
		}
		if len(calls) == 0 {
			return last, nil
		}

		for _, call := range calls {
			result := ToolResult{CallID: call.ID, Name: call.Name}
			out, err := s.agentTools().ExecuteTool(ctx, call.Name, call.Arguments)
			if err != nil {
				logger.Warn(ctx, "Tool call failed", zap.String("tool_name", call.Name), zap.Error(err))
				result.IsError = true
				if out == "" {
					out = err.Error()
				}
			}
			result.Output = out
			s.appendHistory(Message{Role: RoleTool, ToolResult: &result})
		}

		if err := ctx.Err(); err != nil {
			return last, err
		}
	}
}

func (s *AgentSession) agentTools() toolExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent == nil || s.agent.Tools() == nil {
		return noTools{}
	}
	return s.agent.Tools()
}

func (s *AgentSession) buildTurn(instructions string, withTools bool) Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := Turn{
		History:      append([]Message(nil), s.history...),
		Instructions: instructions,
	}
	if s.agent != nil {
		turn.SystemPrompt = s.agent.Instructions()
		if withTools && s.agent.Tools() != nil {
			turn.Tools = s.agent.Tools().Definitions()
		}
	}
	return turn
}

func (s *AgentSession) appendHistory(m Message) {
	s.mu.Lock()
	s.history = append(s.history, m)
	s.mu.Unlock()
}

func (s *AgentSession) enqueueSpeech(text string, allowInterruptions bool) *SpeechHandle {
	h := newSpeechHandle(text, allowInterruptions)

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.speeches = append(s.speeches, h)
	}
	s.mu.Unlock()

	if closed {
		h.markDone()
		return h
	}

	select {
	case s.playout <- h:
	default:
		// playout backlog is full; drop rather than stall the model loop
		logger.Base().Warn("Playout queue full, dropping speech", zap.String("speech_id", h.ID()))
		h.markDone()
	}
	return h
}

func (s *AgentSession) pumpAudio(ctx context.Context, room MediaRoom) {
	defer s.wg.Done()

	// readers exit on their own once the track ends or ctx is done
	sources := room.RemoteAudio()
	for {
		select {
		case <-ctx.Done():
			return
		case src, ok := <-sources:
			if !ok {
				return
			}
			logger.Base().Info("Forwarding remote audio to recognizer", zap.String("identity", src.Identity()))
			go s.forward(ctx, src)
		}
	}
}

func (s *AgentSession) forward(ctx context.Context, src AudioSource) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := src.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Base().Warn("Remote audio read failed", zap.String("identity", src.Identity()), zap.Error(err))
			}
			return
		}
		if s.discardInbound() {
			continue
		}
		if err := s.stream.SendAudio(frame); err != nil {
			if ctx.Err() == nil {
				logger.Base().Warn("Recognizer rejected audio", zap.Error(err))
			}
			return
		}
	}
}

func (s *AgentSession) discardInbound() bool {
	if !s.opts.DiscardAudioIfUninterruptible {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing != nil && !s.playing.AllowInterruptions()
}

func (s *AgentSession) readTranscripts(ctx context.Context) {
	defer s.wg.Done()

	var (
		pending []string
		timer   *time.Timer
		timerC  <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	defer stopTimer()

	transcripts := s.stream.Transcripts()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-transcripts:
			if !ok {
				return
			}
			text := strings.TrimSpace(t.Text)
			if text != "" {
				s.maybeInterrupt(t, text)
			}
			if !t.IsFinal {
				if text != "" {
					stopTimer()
				}
				continue
			}
			if text != "" {
				pending = append(pending, text)
			}
			if len(pending) == 0 {
				continue
			}
			delay := s.opts.MaxEndpointingDelay
			if t.SpeechFinal {
				delay = s.opts.MinEndpointingDelay
			}
			stopTimer()
			timer = time.NewTimer(delay)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			utterance := strings.Join(pending, " ")
			pending = nil
			select {
			case s.userTurns <- utterance:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *AgentSession) maybeInterrupt(t Transcript, text string) {
	if !s.opts.AllowInterruptions {
		return
	}
	if len(strings.Fields(text)) < s.opts.MinInterruptionWords {
		return
	}
	if t.Duration > 0 && time.Duration(t.Duration*float64(time.Second)) < s.opts.MinInterruptionDuration {
		return
	}

	s.mu.Lock()
	playing := s.playing
	s.mu.Unlock()
	if playing != nil && playing.Interrupt() {
		logger.Base().Info("Agent speech interrupted by caller", zap.String("speech_id", playing.ID()))
	}
}

func (s *AgentSession) runTurns(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case utterance := <-s.userTurns:
			logger.Base().Debug("User turn committed", zap.String("text", utterance))
			s.appendHistory(Message{Role: RoleUser, Text: utterance})
			if _, err := s.generate(ctx, "", true, s.opts.AllowInterruptions); err != nil && ctx.Err() == nil {
				logger.Base().Error("Failed to answer user turn", zap.Error(err))
			}
		}
	}
}

func (s *AgentSession) runPlayout(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case h := <-s.playout:
			s.setPlaying(h)
			if err := s.play(ctx, h); err != nil && ctx.Err() == nil {
				logger.Base().Error("Speech playout failed", zap.String("speech_id", h.ID()), zap.Error(err))
			}
			s.setPlaying(nil)
			h.markDone()
		}
	}
}

func (s *AgentSession) setPlaying(h *SpeechHandle) {
	s.mu.Lock()
	s.playing = h
	s.mu.Unlock()
}

func (s *AgentSession) play(ctx context.Context, h *SpeechHandle) error {
	if h.Interrupted() {
		return nil
	}

	audio, err := s.synth.Synthesize(ctx, h.Text())
	if err != nil {
		return err
	}
	defer audio.Close()

	srcRate := s.synth.SampleRate()
	chunk := make([]byte, srcRate/50*2)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		if h.Interrupted() {
			return nil
		}
		n, readErr := io.ReadFull(audio, chunk)
		if n > 0 {
			frame := Resample(PCMFromBytes(chunk[:n]), srcRate, s.opts.SampleRate)
			if err := s.sink.WriteFrame(frame); err != nil {
				return fmt.Errorf("write agent audio: %w", err)
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return nil
			}
			return readErr
		}
	}
}

type toolExecutor interface {
	ExecuteTool(ctx context.Context, toolName string, argumentsJSON string) (string, error)
}

type noTools struct{}

func (noTools) ExecuteTool(_ context.Context, name string, _ string) (string, error) {
	return "", fmt.Errorf("no tools available for %s", name)
}
