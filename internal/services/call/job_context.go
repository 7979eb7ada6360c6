package call

import (
	"context"
	"sync"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
)

// JobContext is the runtime handle for one dispatched job.
type JobContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	roomName string
	metadata string

	mu       sync.Mutex
	hooks    []func(ctx context.Context)
	shutdown bool
	reason   string
}

func NewJobContext(parent context.Context, roomName, metadata string) *JobContext {
	ctx, cancel := context.WithCancel(parent)
	return &JobContext{ctx: ctx, cancel: cancel, roomName: roomName, metadata: metadata}
}

// Context is cancelled when the job shuts down.
func (j *JobContext) Context() context.Context { return j.ctx }
func (j *JobContext) RoomName() string         { return j.roomName }
func (j *JobContext) Metadata() string         { return j.metadata }

// AddShutdownHook registers fn to run on shutdown. Hooks added after shutdown run immediately.
func (j *JobContext) AddShutdownHook(fn func(ctx context.Context)) {
	j.mu.Lock()
	if !j.shutdown {
		j.hooks = append(j.hooks, fn)
		j.mu.Unlock()
		return
	}
	j.mu.Unlock()
	fn(context.WithoutCancel(j.ctx))
}

// Shutdown cancels the job and runs its hooks in reverse order. Only the first call has effect.
func (j *JobContext) Shutdown(reason string) {
	j.mu.Lock()
	if j.shutdown {
		j.mu.Unlock()
		return
	}
	j.shutdown = true
	j.reason = reason
	hooks := j.hooks
	j.hooks = nil
	j.mu.Unlock()

	logger.Info(j.ctx, "Job shutting down", zap.String("room_name", j.roomName), zap.String("reason", reason))
	j.cancel()

	hookCtx := context.WithoutCancel(j.ctx)
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](hookCtx)
	}
}

// ShutdownReason returns the reason given to the first Shutdown, or "".
func (j *JobContext) ShutdownReason() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reason
}
