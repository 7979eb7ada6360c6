package handler

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
)

func signedWebhook(t *testing.T, key, secret string, event *livekit.WebhookEvent) *http.Request {
	t.Helper()
	body, err := protojson.Marshal(event)
	require.NoError(t, err)

	sum := sha256.Sum256(body)
	at := auth.NewAccessToken(key, secret)
	at.SetSha256(base64.StdEncoding.EncodeToString(sum[:]))
	token, err := at.ToJWT()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/livekit/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/webhook+json")
	req.Header.Set("Authorization", token)
	return req
}

func TestLiveKitWebhookAcceptsSignedEvent(t *testing.T) {
	h := NewLiveKitWebhookHandler("APIkey", "secret-secret-secret-secret-secret")
	req := signedWebhook(t, "APIkey", "secret-secret-secret-secret-secret", &livekit.WebhookEvent{
		Event:       "participant_left",
		Room:        &livekit.Room{Name: "call-1"},
		Participant: &livekit.ParticipantInfo{Identity: "+15550100"},
	})

	rec := httptest.NewRecorder()
	h.HandleLiveKitWebhook(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLiveKitWebhookRejectsBadSignature(t *testing.T) {
	h := NewLiveKitWebhookHandler("APIkey", "secret-secret-secret-secret-secret")
	req := signedWebhook(t, "APIkey", "another-secret-another-secret-xx", &livekit.WebhookEvent{
		Event: "room_finished",
		Room:  &livekit.Room{Name: "call-1"},
	})

	rec := httptest.NewRecorder()
	h.HandleLiveKitWebhook(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
