package livekit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/ClareAI/astra-outbound-caller/internal/domain"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
)

// DialRequest places the callee into a room as a SIP participant.
type DialRequest struct {
	RoomName            string
	PhoneNumber         string
	ParticipantIdentity string
	ParticipantName     string
}

type sipAPI interface {
	CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error)
	TransferSIPParticipant(ctx context.Context, req *livekit.TransferSIPParticipantRequest) (*emptypb.Empty, error)
}

// SIPGateway dials and transfers calls through the configured outbound trunk.
type SIPGateway struct {
	api     sipAPI
	trunkID string
}

func NewSIPGateway(cfg config.LiveKitConfig) (*SIPGateway, error) {
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid LiveKit config: %w", err)
	}
	if cfg.SIPTrunkID == "" {
		return nil, errors.New("SIP outbound trunk ID is required")
	}
	return &SIPGateway{
		api:     lksdk.NewSIPClient(cfg.ServerURL, cfg.APIKey, cfg.APISecret),
		trunkID: cfg.SIPTrunkID,
	}, nil
}

// Dial blocks until the callee answers. nil means answered; otherwise the error is a *domain.DialError.
func (g *SIPGateway) Dial(ctx context.Context, req DialRequest) error {
	identity := req.ParticipantIdentity
	if identity == "" {
		identity = req.PhoneNumber
	}

	info, err := g.api.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          g.trunkID,
		SipCallTo:           req.PhoneNumber,
		RoomName:            req.RoomName,
		ParticipantIdentity: identity,
		ParticipantName:     req.ParticipantName,
		WaitUntilAnswered:   true,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Info(ctx, "Dial abandoned", zap.Error(ctxErr))
			return ctxErr
		}
		dialErr := classifyDialError(err)
		logger.Warn(ctx, "Dial failed",
			zap.String("outcome", dialErr.Outcome.String()),
			zap.Int("sip_status_code", dialErr.Code),
			zap.String("sip_status", dialErr.Reason),
			zap.Error(err))
		return dialErr
	}

	logger.Info(ctx, "Call answered",
		zap.String("participant_identity", info.GetParticipantIdentity()),
		zap.String("sip_call_id", info.GetSipCallId()))
	return nil
}

// Transfer performs a SIP REFER of the participant to target.
func (g *SIPGateway) Transfer(ctx context.Context, roomName, identity, target string) error {
	if !strings.HasPrefix(target, "tel:") && !strings.HasPrefix(target, "sip:") {
		target = "tel:" + target
	}
	_, err := g.api.TransferSIPParticipant(ctx, &livekit.TransferSIPParticipantRequest{
		RoomName:            roomName,
		ParticipantIdentity: identity,
		TransferTo:          target,
	})
	if err != nil {
		return fmt.Errorf("transfer %s to %s: %w", identity, target, err)
	}
	logger.Info(ctx, "Call transferred", zap.String("participant_identity", identity), zap.String("transfer_to", target))
	return nil
}

// classifyDialError reads the SIP status the server attaches to twirp errors.
func classifyDialError(err error) *domain.DialError {
	dialErr := &domain.DialError{Outcome: domain.DialGatewayError, Err: err, Reason: err.Error()}

	var terr twirp.Error
	if !errors.As(err, &terr) {
		return dialErr
	}
	dialErr.Reason = terr.Msg()
	if status := terr.Meta("sip_status"); status != "" {
		dialErr.Reason = status
	}
	if code, convErr := strconv.Atoi(terr.Meta("sip_status_code")); convErr == nil {
		dialErr.Code = code
		dialErr.Outcome = domain.ClassifySIPStatus(code)
	}
	if dialErr.Outcome == domain.DialAnswered {
		dialErr.Outcome = domain.DialGatewayError
	}
	return dialErr
}
