package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ClareAI/astra-outbound-caller/internal/core/event"
	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
	"github.com/ClareAI/astra-outbound-caller/internal/core/tool"
	"github.com/ClareAI/astra-outbound-caller/internal/domain"
	"github.com/ClareAI/astra-outbound-caller/internal/prompts"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrToolUnavailable   = errors.New("tool not available in current agent state")
	ErrInvalidTransition = errors.New("invalid agent state transition")
)

// State is the agent's position in the call.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateActive
	StateTransferring
	StateEnding
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateActive:
		return "active"
	case StateTransferring:
		return "transferring"
	case StateEnding:
		return "ending"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transferer moves a SIP participant to another number.
type Transferer interface {
	Transfer(ctx context.Context, roomName, identity, target string) error
}

// HangupFunc tears the call down. It must be idempotent.
type HangupFunc func(ctx context.Context) error

// OutboundCaller is the conversational persona for one outbound call. It owns the
// transfer_call and end_call tools and moves through
// Unbound -> Bound -> Active -> {Transferring, Ending} -> Terminated.
type OutboundCaller struct {
	job          domain.CallJob
	roomName     string
	transferer   Transferer
	hangup       HangupFunc
	bus          event.EventBus
	instructions string
	tools        *tool.ToolManager
	logger       *zap.Logger

	mu          sync.Mutex
	state       State
	participant string
	session     pipeline.Session
	transferred bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewOutboundCaller builds the agent for job. bus may be nil.
func NewOutboundCaller(ctx context.Context, job domain.CallJob, roomName string, transferer Transferer, hangup HangupFunc, bus event.EventBus) (*OutboundCaller, error) {
	if transferer == nil || hangup == nil {
		return nil, errors.New("transferer and hangup are required")
	}

	a := &OutboundCaller{
		job:          job,
		roomName:     roomName,
		transferer:   transferer,
		hangup:       hangup,
		bus:          bus,
		instructions: prompts.AgentInstructions(job),
		logger:       logger.With(ctx),
		done:         make(chan struct{}),
	}

	tools, err := tool.NewToolManager(
		&tool.ToolDefinition{
			Name:        tool.ToolNameTransferCall,
			Description: prompts.ToolDescTransferCall,
			Parameters:  tool.EmptySchema,
			Executor:    func(ctx context.Context, _ string) (string, error) { return a.TransferCall(ctx) },
		},
		&tool.ToolDefinition{
			Name:        tool.ToolNameEndCall,
			Description: prompts.ToolDescEndCall,
			Parameters:  tool.EmptySchema,
			Executor:    func(ctx context.Context, _ string) (string, error) { return a.EndCall(ctx) },
		},
	)
	if err != nil {
		return nil, fmt.Errorf("register agent tools: %w", err)
	}
	a.tools = tools
	return a, nil
}

func (a *OutboundCaller) Instructions() string     { return a.instructions }
func (a *OutboundCaller) Tools() *tool.ToolManager { return a.tools }
func (a *OutboundCaller) Job() domain.CallJob      { return a.job }

// Attach records the session that speaks for this agent.
func (a *OutboundCaller) Attach(session pipeline.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = session
}

func (a *OutboundCaller) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *OutboundCaller) Participant() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.participant
}

// Transferred reports whether the call left the agent through a completed transfer.
func (a *OutboundCaller) Transferred() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transferred
}

// Done is closed once the agent reaches Terminated.
func (a *OutboundCaller) Done() <-chan struct{} { return a.done }

// SetParticipant binds the dialed participant. Binding twice is a programming error and panics.
func (a *OutboundCaller) SetParticipant(identity string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateUnbound {
		panic(fmt.Sprintf("agent: participant already bound (state %s)", a.state))
	}
	a.participant = identity
	a.state = StateBound
	a.logger.Info("Participant bound to agent", zap.String("participant_identity", identity))
}

// MarkActive enables the tools once the greeting has been generated.
func (a *OutboundCaller) MarkActive() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateBound {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.state, StateActive)
	}
	a.state = StateActive
	return nil
}

// begin moves Active -> next and returns the bound session and participant.
func (a *OutboundCaller) begin(next State) (pipeline.Session, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateActive {
		return nil, "", fmt.Errorf("%w (state %s)", ErrToolUnavailable, a.state)
	}
	a.state = next
	return a.session, a.participant, nil
}

func (a *OutboundCaller) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	if s == StateTerminated {
		a.doneOnce.Do(func() { close(a.done) })
	}
}

// TransferCall hands the caller to the configured human number.
func (a *OutboundCaller) TransferCall(ctx context.Context) (string, error) {
	if !a.job.CanTransfer() {
		session, _, err := a.begin(StateActive)
		if err != nil {
			return "", err
		}
		a.say(ctx, session, prompts.PromptTransferUnavailable, true)
		a.publishTool(tool.ToolNameTransferCall, domain.ErrTransferUnavailable.Error())
		return domain.ErrTransferUnavailable.Error(), domain.ErrTransferUnavailable
	}

	session, identity, err := a.begin(StateTransferring)
	if err != nil {
		return "", err
	}
	a.logger.Info("Transferring call", zap.String("participant_identity", identity), zap.String("transfer_to", a.job.TransferTo))

	// the notice must be heard before the SIP REFER drops the agent's audio
	if h := a.say(ctx, session, prompts.PromptTransferNotice, false); h != nil {
		if err := h.WaitForPlayout(ctx); err != nil {
			a.setState(StateActive)
			return "", err
		}
	}

	if err := a.transferer.Transfer(ctx, a.roomName, identity, a.job.TransferTo); err != nil {
		a.logger.Error("Error transferring call", zap.Error(err))
		a.setState(StateActive)
		a.say(ctx, session, prompts.PromptTransferFailed, true)
		terr := &domain.TransferError{Target: a.job.TransferTo, Err: err}
		a.publishTool(tool.ToolNameTransferCall, terr.Error())
		return "", terr
	}

	a.mu.Lock()
	a.transferred = true
	a.mu.Unlock()
	a.setState(StateTerminated)
	a.publishTool(tool.ToolNameTransferCall, "transferred")
	return "call transferred to " + a.job.TransferTo, nil
}

// EndCall lets the current reply finish, then hangs up.
func (a *OutboundCaller) EndCall(ctx context.Context) (string, error) {
	session, _, err := a.begin(StateEnding)
	if err != nil {
		return "", err
	}
	a.logger.Info("Ending call")

	if session != nil {
		if current := session.CurrentSpeech(); current != nil {
			if err := current.WaitForPlayout(ctx); err != nil {
				a.logger.Warn("Playout wait interrupted", zap.Error(err))
			}
		}
	}

	if err := a.hangup(ctx); err != nil {
		a.logger.Error("Hangup failed", zap.Error(err))
	}
	a.setState(StateTerminated)
	a.publishTool(tool.ToolNameEndCall, "ended")
	return "call ended", nil
}

func (a *OutboundCaller) say(ctx context.Context, session pipeline.Session, instructions string, interruptible bool) *pipeline.SpeechHandle {
	if session == nil {
		return nil
	}
	h, err := session.GenerateReply(ctx, instructions, pipeline.WithAllowInterruptions(interruptible))
	if err != nil {
		a.logger.Warn("Agent reply failed", zap.Error(err))
		return nil
	}
	return h
}

func (a *OutboundCaller) publishTool(name, result string) {
	if a.bus == nil {
		return
	}
	_ = a.bus.Publish(event.NewCallEvent(event.AgentToolInvoked, a.roomName).
		WithPhoneNumber(a.job.PhoneNumber).
		WithData(&event.ToolData{Name: name, Result: result}))
}
