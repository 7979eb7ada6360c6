package task

import (
	"context"
	"fmt"
	"sync"
)

// LocalBus is an in-process Bus for single-instance deployments without Redis.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []func(SessionTask)
	queue    chan SessionTask
	once     sync.Once
}

// NewLocalBus creates a bus that buffers up to size undelivered tasks.
func NewLocalBus(size int) *LocalBus {
	return &LocalBus{queue: make(chan SessionTask, size)}
}

// Publish enqueues the task; it fails when the buffer is full rather than block intake.
func (b *LocalBus) Publish(ctx context.Context, task SessionTask) error {
	select {
	case b.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("task queue full (%d pending)", len(b.queue))
	}
}

// Subscribe registers handler and starts delivery on first use. Delivery stops with ctx.
func (b *LocalBus) Subscribe(ctx context.Context, handler func(SessionTask)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()

	b.once.Do(func() {
		go b.deliver(ctx)
	})
	return nil
}

func (b *LocalBus) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-b.queue:
			b.mu.RLock()
			handlers := append([]func(SessionTask){}, b.handlers...)
			b.mu.RUnlock()
			for _, h := range handlers {
				h(task)
			}
		}
	}
}
