package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/core/task"
	"github.com/ClareAI/astra-outbound-caller/internal/domain"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Shutdown reasons recorded on a job.
const (
	ReasonCompleted       = "completed"
	ReasonInvalidMetadata = "invalid_metadata"
	ReasonFailed          = "failed"
	ReasonWorkerShutdown  = "worker_shutdown"
)

// CallRunner runs one call to completion.
type CallRunner interface {
	Run(ctx context.Context, roomName string, job domain.CallJob) error
}

// Worker consumes dispatched tasks and runs one call per task.
type Worker struct {
	bus       task.Bus
	runner    CallRunner
	agentName string
	sem       *semaphore.Weighted

	mu     sync.Mutex
	jobs   map[string]*JobContext
	wg     sync.WaitGroup
	closed bool
}

func NewWorker(bus task.Bus, runner CallRunner, agentName string, maxConcurrent int) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Worker{
		bus:       bus,
		runner:    runner,
		agentName: agentName,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		jobs:      make(map[string]*JobContext),
	}
}

// Start subscribes to the task bus. Jobs run under ctx; cancelling it stops intake
// and shuts down every running job.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.bus.Subscribe(ctx, func(t task.SessionTask) { w.dispatch(ctx, t) }); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		w.shutdownAll(ReasonWorkerShutdown)
	}()
	logger.Info(ctx, "Worker started", zap.String("agent_name", w.agentName))
	return nil
}

func (w *Worker) dispatch(ctx context.Context, t task.SessionTask) {
	if t.Type != task.TaskTypeOutboundCall || t.AgentName != w.agentName {
		logger.Debug(ctx, "Ignoring task for another agent",
			zap.String("task_id", t.ID), zap.String("agent_name", t.AgentName))
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		logger.Warn(ctx, "Worker closed, dropping task", zap.String("task_id", t.ID))
		return
	}
	job := NewJobContext(logger.WithFields(ctx, zap.String("job_id", t.ID), zap.String("room_name", t.RoomName)), t.RoomName, t.Metadata)
	w.jobs[t.ID] = job
	w.wg.Add(1)
	w.mu.Unlock()

	accepted := time.Now()
	job.AddShutdownHook(func(ctx context.Context) {
		w.forget(t.ID)
		logger.Info(ctx, "Job finished",
			zap.String("reason", job.ShutdownReason()),
			zap.Duration("elapsed", time.Since(accepted)))
	})

	go func() {
		defer w.wg.Done()
		w.Handle(job)
	}()
}

func (w *Worker) forget(id string) {
	w.mu.Lock()
	delete(w.jobs, id)
	w.mu.Unlock()
}

// Handle runs one job: decode its metadata, then run the call. The job is always shut down on return.
func (w *Worker) Handle(job *JobContext) {
	ctx := job.Context()
	start := time.Now()

	callJob, err := domain.DecodeCallJob(job.Metadata())
	if err != nil {
		logger.Error(ctx, "Rejecting job with invalid metadata", zap.Error(err))
		job.Shutdown(ReasonInvalidMetadata)
		return
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		job.Shutdown(ReasonWorkerShutdown)
		return
	}
	defer w.sem.Release(1)

	err = w.runner.Run(ctx, job.RoomName(), callJob)
	switch {
	case err == nil:
		job.Shutdown(ReasonCompleted)
	case errors.Is(err, context.Canceled):
		job.Shutdown(ReasonWorkerShutdown)
	default:
		logger.Error(ctx, "Call failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		job.Shutdown(ReasonFailed)
	}
}

// Active returns the number of running jobs.
func (w *Worker) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.jobs)
}

func (w *Worker) shutdownAll(reason string) {
	w.mu.Lock()
	w.closed = true
	jobs := make([]*JobContext, 0, len(w.jobs))
	for _, j := range w.jobs {
		jobs = append(jobs, j)
	}
	w.mu.Unlock()

	for _, j := range jobs {
		j.Shutdown(reason)
	}
}

// Shutdown stops every job and waits for them to unwind or for ctx to expire.
func (w *Worker) Shutdown(ctx context.Context, reason string) error {
	w.shutdownAll(reason)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
