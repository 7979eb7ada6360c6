package handler

import (
	"net/http"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"
	"go.uber.org/zap"
)

// LiveKitWebhookHandler logs room and participant lifecycle reported by the LiveKit server.
type LiveKitWebhookHandler struct {
	keys auth.KeyProvider
}

func NewLiveKitWebhookHandler(apiKey, apiSecret string) *LiveKitWebhookHandler {
	return &LiveKitWebhookHandler{keys: auth.NewSimpleKeyProvider(apiKey, apiSecret)}
}

func (h *LiveKitWebhookHandler) SetupLiveKitRoutes(router *mux.Router) {
	router.HandleFunc("/livekit/webhook", h.HandleLiveKitWebhook).Methods("POST")
}

// HandleLiveKitWebhook processes LiveKit webhook events
func (h *LiveKitWebhookHandler) HandleLiveKitWebhook(w http.ResponseWriter, r *http.Request) {
	event, err := webhook.ReceiveWebhookEvent(r, h.keys)
	if err != nil {
		logger.Base().Warn("Rejected LiveKit webhook", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "invalid webhook", http.StatusUnauthorized)
		return
	}

	roomName := event.GetRoom().GetName()
	switch event.GetEvent() {
	case webhook.EventRoomStarted:
		logger.Base().Info("Room started", zap.String("room", roomName))
	case webhook.EventRoomFinished:
		logger.Base().Info("Room finished", zap.String("room", roomName))
	case webhook.EventParticipantJoined:
		h.logParticipant("Participant joined", roomName, event.GetParticipant())
	case webhook.EventParticipantLeft:
		h.logParticipant("Participant left", roomName, event.GetParticipant())
	default:
		logger.Base().Debug("Unhandled LiveKit event", zap.String("event", event.GetEvent()), zap.String("room", roomName))
	}

	w.WriteHeader(http.StatusOK)
}

func (h *LiveKitWebhookHandler) logParticipant(msg, roomName string, p *livekit.ParticipantInfo) {
	logger.Base().Info(msg,
		zap.String("room", roomName),
		zap.String("participant", p.GetIdentity()),
		zap.String("kind", p.GetKind().String()),
	)
}
