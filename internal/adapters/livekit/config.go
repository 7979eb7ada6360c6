package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/livekit/protocol/auth"
)

const tokenValidity = 2 * time.Hour

func validate(cfg config.LiveKitConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("LiveKit server URL is required")
	}
	if cfg.APIKey == "" {
		return errors.New("LiveKit API key is required")
	}
	if cfg.APISecret == "" {
		return errors.New("LiveKit API secret is required")
	}
	return nil
}

// GenerateToken generates a LiveKit access token that can join roomName and publish audio.
func GenerateToken(cfg config.LiveKitConfig, roomName, identity string) (string, error) {
	at := auth.NewAccessToken(cfg.APIKey, cfg.APISecret)

	canPublish := true
	canSubscribe := true
	grant := &auth.VideoGrant{
		RoomJoin:     true,
		Room:         roomName,
		CanPublish:   &canPublish,
		CanSubscribe: &canSubscribe,
	}

	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetValidFor(tokenValidity)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT: %w", err)
	}
	return token, nil
}
