package pipeline

import (
	"context"
	"io"

	"github.com/ClareAI/astra-outbound-caller/internal/core/tool"
)

// Session is the conversational pipeline bound to one room and one agent.
type Session interface {
	// Start publishes the agent audio, opens recognition and begins the turn loop.
	// It returns once the pipeline is ready; the loops run until Close.
	Start(ctx context.Context, room MediaRoom, agent Agent) error
	// GenerateReply asks the model for a spoken reply steered by instructions.
	// It returns once the text exists and playout is scheduled.
	GenerateReply(ctx context.Context, instructions string, opts ...ReplyOption) (*SpeechHandle, error)
	// CurrentSpeech returns the newest speech that has not finished playing, or nil.
	CurrentSpeech() *SpeechHandle
	Close() error
}

// Agent supplies the persona and the tools the model may call.
type Agent interface {
	Instructions() string
	Tools() *tool.ToolManager
	Attach(session Session)
}

// MediaRoom is the audio side of a connected room. Audio is 48kHz mono PCM in 20ms frames.
type MediaRoom interface {
	PublishAudio(ctx context.Context, trackName string) (AudioSink, error)
	RemoteAudio() <-chan AudioSource
}

type AudioSink interface {
	WriteFrame(pcm []int16) error
	Close() error
}

// AudioSource yields decoded frames of one remote track. ReadFrame returns io.EOF when the track ends.
type AudioSource interface {
	Identity() string
	ReadFrame() ([]int16, error)
}

// Transcript is one recognition result.
type Transcript struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool // the recognizer detected the end of the utterance
	Duration    float64
}

type TranscriptStream interface {
	SendAudio(pcm []int16) error
	Transcripts() <-chan Transcript
	Close() error
}

// Listener is streaming speech recognition.
type Listener interface {
	Listen(ctx context.Context, sampleRate int) (TranscriptStream, error)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type ToolResult struct {
	CallID  string
	Name    string
	Output  string
	IsError bool
}

// Message is one entry of the conversation history.
type Message struct {
	Role       Role
	Text       string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
}

// Turn is everything the model sees for one generation.
type Turn struct {
	SystemPrompt string
	History      []Message
	Instructions string
	Tools        []tool.ToolDefinition
}

type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Thinker is the language model.
type Thinker interface {
	Respond(ctx context.Context, turn Turn) (Response, error)
}

// Synthesizer turns text into little-endian 16-bit mono PCM at SampleRate.
type Synthesizer interface {
	SampleRate() int
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}
