package task

import (
	"context"
	"time"
)

// TaskType defines the type of asynchronous task
type TaskType string

const (
	TaskTypeOutboundCall TaskType = "outbound_call" // dispatch an agent into a prepared room and dial out
)

// SessionTask is a dispatch: it asks a worker with AgentName to run one call in RoomName.
type SessionTask struct {
	ID        string    `json:"id"`
	Type      TaskType  `json:"type"`
	AgentName string    `json:"agent_name"`
	RoomName  string    `json:"room_name"`
	Metadata  string    `json:"metadata"` // job metadata, decoded by the worker
	CreatedAt time.Time `json:"created_at"`
}

// Bus defines the interface for the task bus
type Bus interface {
	Publish(ctx context.Context, task SessionTask) error
	Subscribe(ctx context.Context, handler func(SessionTask)) error
}
