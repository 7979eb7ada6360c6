package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/adapters/livekit"
	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/ClareAI/astra-outbound-caller/internal/core/event"
	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
	"github.com/ClareAI/astra-outbound-caller/internal/core/session"
	"github.com/ClareAI/astra-outbound-caller/internal/domain"
	"github.com/ClareAI/astra-outbound-caller/internal/prompts"
	"github.com/ClareAI/astra-outbound-caller/internal/services/agent"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the controller's position in one call.
type State string

const (
	StateInit          State = "init"
	StateConnected     State = "connected"
	StateBootstrapping State = "bootstrapping"
	StateJoined        State = "joined"
	StateGreeting      State = "greeting"
	StateActive        State = "active"
	StateEnded         State = "ended"
)

// Outcomes reported on call.ended and call.failed besides the dial outcomes.
const (
	OutcomeCompleted      = "completed"
	OutcomeTransferred    = "transferred"
	OutcomeJoinTimeout    = "join_timeout"
	OutcomeBootstrapError = "bootstrap_error"
	OutcomeCancelled      = "cancelled"
	OutcomeError          = "error"
)

// Room is the agent's connection to the call room.
type Room interface {
	pipeline.MediaRoom
	livekit.ParticipantView
	Name() string
	WaitForParticipant(ctx context.Context, identity string) error
	Disconnect()
}

type RoomConnector interface {
	Connect(ctx context.Context, roomName, identity string) (Room, error)
}

// LiveKitRooms adapts the LiveKit connector to RoomConnector.
type LiveKitRooms struct {
	Connector *livekit.Connector
}

func (c LiveKitRooms) Connect(ctx context.Context, roomName, identity string) (Room, error) {
	room, err := c.Connector.Connect(ctx, roomName, identity)
	if err != nil {
		return nil, err
	}
	return room, nil
}

// Dialer places the callee into the room and blocks until answered.
type Dialer interface {
	Dial(ctx context.Context, req livekit.DialRequest) error
}

type SessionFactory interface {
	NewSession() pipeline.Session
}

// StatusSourceFunc builds the hangup detector for a connected room.
type StatusSourceFunc func(view livekit.ParticipantView) livekit.StatusSource

// Deps are the collaborators shared by every call.
type Deps struct {
	Rooms      RoomConnector
	Deleter    RoomDeleter
	Dialer     Dialer
	Transferer agent.Transferer
	Sessions   SessionFactory
	Bus        event.EventBus   // optional
	Registry   session.Registry // optional
	Config     config.CallConfig
	// StatusSource defaults to the configured polling or event source.
	StatusSource StatusSourceFunc
}

// Controller runs the lifecycle of outbound calls.
type Controller struct {
	deps Deps
}

func NewController(deps Deps) (*Controller, error) {
	if deps.Rooms == nil || deps.Deleter == nil || deps.Dialer == nil || deps.Transferer == nil || deps.Sessions == nil {
		return nil, errors.New("rooms, deleter, dialer, transferer and sessions are required")
	}
	if deps.StatusSource == nil {
		cfg := deps.Config
		deps.StatusSource = func(view livekit.ParticipantView) livekit.StatusSource {
			return livekit.NewStatusSource(view, cfg)
		}
	}
	return &Controller{deps: deps}, nil
}

// callRun carries the per-call state of one Run.
type callRun struct {
	c        *Controller
	roomName string
	job      domain.CallJob
	started  time.Time

	mu    sync.Mutex
	state State
}

// Run places the call described by job in roomName and supervises it until it ends.
// Cancelling ctx shuts the call down. Any failure hangs up first.
func (c *Controller) Run(ctx context.Context, roomName string, job domain.CallJob) error {
	ctx = logger.WithFields(ctx, zap.String("room_name", roomName), zap.String("phone_number", job.PhoneNumber))
	r := &callRun{c: c, roomName: roomName, job: job, started: time.Now(), state: StateInit}

	// the room already exists, so every failure from here deletes it
	hangup := NewHangup(c.deps.Deleter, roomName)

	identity := c.deps.Config.AgentIdentityPrefix + roomName
	room, err := c.deps.Rooms.Connect(ctx, roomName, identity)
	if err != nil {
		return r.fail(ctx, hangup, &domain.UnexpectedError{Stage: "connect", Err: err})
	}
	defer room.Disconnect()
	r.transition(ctx, StateConnected)

	if c.deps.Registry != nil {
		if err := c.deps.Registry.Register(ctx, session.CallInfo{
			RoomName:     roomName,
			PhoneNumber:  job.PhoneNumber,
			CustomerName: job.CustomerName,
			State:        string(StateConnected),
			StartTime:    r.started,
		}); err != nil {
			logger.Warn(ctx, "Failed to register call", zap.Error(err))
		}
		defer func() {
			if err := c.deps.Registry.Unregister(context.WithoutCancel(ctx), roomName); err != nil {
				logger.Warn(ctx, "Failed to unregister call", zap.Error(err))
			}
		}()
	}

	caller, err := agent.NewOutboundCaller(ctx, job, roomName, c.deps.Transferer, hangup.Run, c.deps.Bus)
	if err != nil {
		return r.fail(ctx, hangup, &domain.UnexpectedError{Stage: "agent", Err: err})
	}

	sess := c.deps.Sessions.NewSession()
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Warn(ctx, "Session close failed", zap.Error(err))
		}
	}()

	r.transition(ctx, StateBootstrapping)
	if err := r.bootstrapAndDial(ctx, room, sess, caller); err != nil {
		return r.fail(ctx, hangup, err)
	}

	if err := r.waitForParticipant(ctx, room); err != nil {
		return r.fail(ctx, hangup, err)
	}
	r.transition(ctx, StateJoined)

	caller.SetParticipant(job.PhoneNumber)
	r.transition(ctx, StateGreeting)

	greeting, err := sess.GenerateReply(ctx, prompts.OutboundGreeting(job))
	if err != nil {
		return r.fail(ctx, hangup, &domain.UnexpectedError{Stage: "greeting", Err: err})
	}
	select {
	case <-greeting.Generated():
	case <-ctx.Done():
		return r.fail(ctx, hangup, ctx.Err())
	}
	if err := caller.MarkActive(); err != nil {
		return r.fail(ctx, hangup, &domain.UnexpectedError{Stage: "greeting", Err: err})
	}
	r.transition(ctx, StateActive)

	outcome, reason, err := r.supervise(ctx, room, hangup, caller)
	if err != nil {
		return r.fail(ctx, hangup, err)
	}

	r.transition(ctx, StateEnded)
	r.publishOutcome(event.CallEnded, outcome, 0, reason, nil)
	logger.Info(ctx, "Call ended", zap.String("outcome", outcome), zap.String("reason", reason),
		zap.Duration("duration", time.Since(r.started)))
	return nil
}

// bootstrapAndDial starts the session and dials the callee concurrently. The first failure cancels the other.
func (r *callRun) bootstrapAndDial(ctx context.Context, room Room, sess pipeline.Session, caller *agent.OutboundCaller) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sess.Start(gctx, room, caller); err != nil {
			return &domain.BootstrapError{Err: err}
		}
		return nil
	})
	g.Go(func() error {
		err := r.c.deps.Dialer.Dial(gctx, livekit.DialRequest{
			RoomName:            r.roomName,
			PhoneNumber:         r.job.PhoneNumber,
			ParticipantIdentity: r.job.PhoneNumber,
			ParticipantName:     r.job.CustomerName,
		})
		if err == nil || gctx.Err() == nil {
			r.publishDialed(err)
		}
		return err
	})
	return g.Wait()
}

func (r *callRun) waitForParticipant(ctx context.Context, room Room) error {
	waitCtx := ctx
	if timeout := r.c.deps.Config.ParticipantJoinTimeout; timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := room.WaitForParticipant(waitCtx, r.job.PhoneNumber)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrParticipantJoinTimeout
	}
	return err
}

// supervise blocks until the callee hangs up, the agent finishes, or ctx is cancelled.
func (r *callRun) supervise(ctx context.Context, room Room, hangup *Hangup, caller *agent.OutboundCaller) (string, string, error) {
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	hangups := r.c.deps.StatusSource(room).Hangups(watchCtx, r.job.PhoneNumber)

	select {
	case reason := <-hangups:
		logger.Info(ctx, "Callee hung up", zap.String("reason", reason))
		if err := hangup.Run(ctx); err != nil {
			return "", "", &domain.UnexpectedError{Stage: "hangup", Err: err}
		}
		return OutcomeCompleted, reason, nil

	case <-caller.Done():
		if err := hangup.Run(ctx); err != nil {
			return "", "", &domain.UnexpectedError{Stage: "hangup", Err: err}
		}
		if caller.Transferred() {
			return OutcomeTransferred, "call transferred to " + caller.Job().TransferTo, nil
		}
		return OutcomeCompleted, "agent ended the call", nil

	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

// fail hangs up on a fresh context so no room is leaked, then reports err.
func (r *callRun) fail(ctx context.Context, hangup *Hangup, err error) error {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.DefaultHangupTimeout)
	defer cancel()
	if herr := hangup.Run(hctx); herr != nil {
		logger.Error(ctx, "Best-effort hangup failed", zap.Error(herr))
	}

	r.transition(ctx, StateEnded)
	r.publishFailed(ctx, err)
	return err
}

func (r *callRun) publishFailed(ctx context.Context, err error) {
	outcome, code := classifyFailure(err)
	logger.Error(ctx, "Call failed", zap.String("outcome", outcome), zap.Error(err))
	r.publishOutcome(event.CallFailed, outcome, code, err.Error(), err)
}

func classifyFailure(err error) (string, int) {
	var dialErr *domain.DialError
	var bootErr *domain.BootstrapError
	switch {
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled, 0
	case errors.As(err, &dialErr):
		return dialErr.Outcome.String(), dialErr.Code
	case errors.Is(err, domain.ErrParticipantJoinTimeout):
		return OutcomeJoinTimeout, 0
	case errors.As(err, &bootErr):
		return OutcomeBootstrapError, 0
	default:
		return OutcomeError, 0
	}
}

func (r *callRun) transition(ctx context.Context, to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()
	if from == to {
		return
	}

	logger.Debug(ctx, "Call state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	r.publish(event.NewCallEvent(event.CallStateChanged, r.roomName).
		WithData(&event.StateChangeData{From: string(from), To: string(to)}))

	if reg := r.c.deps.Registry; reg != nil && to != StateEnded && from != StateInit {
		if err := reg.UpdateState(ctx, r.roomName, string(to)); err != nil {
			logger.Debug(ctx, "Failed to update call state", zap.Error(err))
		}
	}
}

func (r *callRun) publishDialed(err error) {
	data := &event.OutcomeData{
		CustomerName: r.job.CustomerName,
		Outcome:      domain.OutcomeOf(err).String(),
		StartedAt:    r.started,
		EndedAt:      time.Now(),
	}
	var dialErr *domain.DialError
	if errors.As(err, &dialErr) {
		data.SIPStatusCode = dialErr.Code
		data.Reason = dialErr.Reason
	}
	r.publish(event.NewCallEvent(event.CallDialed, r.roomName).WithData(data).WithError(err))
}

func (r *callRun) publishOutcome(t event.EventType, outcome string, code int, reason string, err error) {
	r.publish(event.NewCallEvent(t, r.roomName).
		WithError(err).
		WithData(&event.OutcomeData{
			CustomerName:  r.job.CustomerName,
			Outcome:       outcome,
			SIPStatusCode: code,
			Reason:        reason,
			StartedAt:     r.started,
			EndedAt:       time.Now(),
		}))
}

func (r *callRun) publish(e *event.CallEvent) {
	if r.c.deps.Bus == nil {
		return
	}
	if err := r.c.deps.Bus.Publish(e.WithPhoneNumber(r.job.PhoneNumber)); err != nil {
		logger.Base().Debug("Event publish failed", zap.String("type", string(e.Type)), zap.Error(err))
	}
}

// String is used in logs.
func (s State) String() string { return string(s) }
