package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"go.uber.org/zap"
)

// PCMSampleRate is the rate of the raw "pcm" response format.
const PCMSampleRate = 24000

// Config selects the voice used for every reply.
type Config struct {
	APIKey  string
	BaseURL string // default https://api.openai.com
	Model   string
	Voice   string
	Speed   float64
}

// TTS implements pipeline.Synthesizer on the OpenAI speech endpoint.
type TTS struct {
	cfg        Config
	httpClient *http.Client
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

func NewTTS(cfg Config) (*TTS, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1-hd"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	return &TTS{
		cfg: cfg,
		// Streaming body; the timeout covers headers only.
		httpClient: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 15 * time.Second}},
	}, nil
}

func (t *TTS) SampleRate() int { return PCMSampleRate }

// Synthesize streams 16-bit mono PCM for text. The caller closes the reader.
func (t *TTS) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := json.Marshal(speechRequest{
		Model:          t.cfg.Model,
		Input:          text,
		Voice:          t.cfg.Voice,
		Speed:          t.cfg.Speed,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(t.cfg.BaseURL, "/") + "/v1/audio/speech"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai speech request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openai speech error %d: %s", resp.StatusCode, string(msg))
	}

	logger.Debug(ctx, "Speech synthesis started", zap.Int("chars", len(text)), zap.String("voice", t.cfg.Voice))
	return resp.Body, nil
}
