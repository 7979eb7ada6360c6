package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/ClareAI/astra-outbound-caller/pkg/redis"
	"go.uber.org/zap"
)

const (
	TaskQueue = "astra:outbound:call:tasks"

	popTimeout   = 5 * time.Second
	retryBackoff = time.Second
)

// RedisBus implements the Bus interface on a Redis list, so each task reaches exactly one worker.
type RedisBus struct {
	redisSvc redis.RedisServiceInterface
}

// NewRedisBus creates a new Redis-based task bus
func NewRedisBus(redisSvc redis.RedisServiceInterface) *RedisBus {
	return &RedisBus{redisSvc: redisSvc}
}

// Publish enqueues a task
func (b *RedisBus) Publish(ctx context.Context, task SessionTask) error {
	logger.Base().Debug("Publishing task", zap.String("type", string(task.Type)), zap.String("task_id", task.ID), zap.String("room_name", task.RoomName))
	return b.redisSvc.Push(ctx, TaskQueue, task)
}

// Subscribe consumes tasks in the background until ctx is done
func (b *RedisBus) Subscribe(ctx context.Context, handler func(SessionTask)) error {
	logger.Base().Info("Consuming outbound call tasks", zap.String("queue", TaskQueue))
	go b.consume(ctx, handler)
	return nil
}

func (b *RedisBus) consume(ctx context.Context, handler func(SessionTask)) {
	for ctx.Err() == nil {
		payload, err := b.redisSvc.Pop(ctx, TaskQueue, popTimeout)
		switch {
		case errors.Is(err, redis.ErrKeyNotExist):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			logger.Base().Warn("Task queue read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		var task SessionTask
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			logger.Base().Error("Failed to unmarshal task payload", zap.Error(err))
			continue
		}
		handler(task)
	}
}
