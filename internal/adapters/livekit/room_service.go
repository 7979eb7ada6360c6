package livekit

import (
	"context"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
	"go.uber.org/zap"
)

// ErrRoomNotFound is returned when the room is already gone.
var ErrRoomNotFound = errors.New("room not found")

type roomAPI interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error)
}

// RoomService creates and deletes rooms on the LiveKit server.
type RoomService struct {
	api roomAPI
	cfg config.LiveKitConfig
}

func NewRoomService(cfg config.LiveKitConfig) (*RoomService, error) {
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid LiveKit config: %w", err)
	}
	return &RoomService{
		api: lksdk.NewRoomServiceClient(cfg.ServerURL, cfg.APIKey, cfg.APISecret),
		cfg: cfg,
	}, nil
}

// CreateRoom creates a room that closes itself once it has been empty for RoomEmptyTTL.
func (s *RoomService) CreateRoom(ctx context.Context, name, metadata string) (*livekit.Room, error) {
	room, err := s.api.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            name,
		EmptyTimeout:    uint32(s.cfg.RoomEmptyTTL.Seconds()),
		MaxParticipants: s.cfg.MaxParticipants,
		Metadata:        metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", name, err)
	}
	logger.Info(ctx, "Room created", zap.String("room_name", room.Name), zap.String("room_sid", room.Sid))
	return room, nil
}

// DeleteRoom deletes the room, disconnecting everyone in it. A missing room yields ErrRoomNotFound.
func (s *RoomService) DeleteRoom(ctx context.Context, name string) error {
	_, err := s.api.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: name})
	if err == nil {
		return nil
	}
	var terr twirp.Error
	if errors.As(err, &terr) && terr.Code() == twirp.NotFound {
		return fmt.Errorf("delete room %s: %w", name, ErrRoomNotFound)
	}
	return fmt.Errorf("delete room %s: %w", name, err)
}
