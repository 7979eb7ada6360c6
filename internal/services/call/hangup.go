package call

import (
	"context"
	"errors"
	"sync"

	"github.com/ClareAI/astra-outbound-caller/internal/adapters/livekit"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
)

// RoomDeleter removes a room and everyone in it.
type RoomDeleter interface {
	DeleteRoom(ctx context.Context, name string) error
}

// Hangup ends one call by deleting its room. Once a deletion succeeds, or the room is
// already gone, later calls return nil without contacting the server.
type Hangup struct {
	rooms    RoomDeleter
	roomName string

	mu   sync.Mutex
	done bool
}

func NewHangup(rooms RoomDeleter, roomName string) *Hangup {
	return &Hangup{rooms: rooms, roomName: roomName}
}

// Run deletes the room. Gateway errors are returned so the caller may retry.
func (h *Hangup) Run(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}

	err := h.rooms.DeleteRoom(ctx, h.roomName)
	if err != nil && !errors.Is(err, livekit.ErrRoomNotFound) {
		logger.Error(ctx, "Failed to hang up call", zap.String("room_name", h.roomName), zap.Error(err))
		return err
	}

	h.done = true
	logger.Info(ctx, "Call hung up", zap.String("room_name", h.roomName))
	return nil
}

// Done reports whether the room has been deleted.
func (h *Hangup) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}
