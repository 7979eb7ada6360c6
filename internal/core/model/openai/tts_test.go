package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeStreamsPCM(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write(make([]byte, 960))
	}))
	defer srv.Close()

	tts, err := NewTTS(Config{APIKey: "sk-test", BaseURL: srv.URL, Speed: 1.1})
	require.NoError(t, err)
	assert.Equal(t, 24000, tts.SampleRate())

	rc, err := tts.Synthesize(context.Background(), "Hello Dana")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Len(t, data, 960)

	assert.Equal(t, "tts-1-hd", got.Model)
	assert.Equal(t, "alloy", got.Voice)
	assert.Equal(t, "pcm", got.ResponseFormat)
	assert.Equal(t, "Hello Dana", got.Input)
	assert.InDelta(t, 1.1, got.Speed, 1e-9)
}

func TestSynthesizeErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad voice"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tts, err := NewTTS(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = tts.Synthesize(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad voice")
}

func TestNewTTSRequiresKey(t *testing.T) {
	_, err := NewTTS(Config{})
	assert.Error(t, err)
}
