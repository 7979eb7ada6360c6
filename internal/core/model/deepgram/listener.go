package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const keepAliveInterval = 5 * time.Second

var ErrStreamClosed = errors.New("transcription stream closed")

// Config selects the recognition model and its streaming behaviour.
type Config struct {
	APIKey      string
	BaseURL     string // e.g. wss://api.deepgram.com
	Model       string
	Language    string
	Endpointing time.Duration
}

// Listener implements pipeline.Listener over the Deepgram live websocket.
type Listener struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewListener(cfg Config) (*Listener, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("Deepgram API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.deepgram.com"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-3"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	return &Listener{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// StreamURL builds the live endpoint with the recognition options.
func (l *Listener) StreamURL(sampleRate int) (string, error) {
	u, err := url.Parse(strings.TrimRight(l.cfg.BaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", fmt.Errorf("parse Deepgram URL: %w", err)
	}
	q := u.Query()
	q.Set("model", l.cfg.Model)
	q.Set("language", l.cfg.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("no_delay", "true")
	q.Set("filler_words", "true")
	q.Set("endpointing", strconv.FormatInt(l.cfg.Endpointing.Milliseconds(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Listen opens a live recognition stream for 16-bit mono PCM at sampleRate.
func (l *Listener) Listen(ctx context.Context, sampleRate int) (pipeline.TranscriptStream, error) {
	streamURL, err := l.StreamURL(sampleRate)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+l.cfg.APIKey)

	conn, resp, err := l.dialer.DialContext(ctx, streamURL, headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("deepgram connect (status %d): %s: %w", resp.StatusCode, string(body), err)
		}
		return nil, fmt.Errorf("deepgram connect: %w", err)
	}

	s := &stream{
		conn:        conn,
		transcripts: make(chan pipeline.Transcript, 100),
		done:        make(chan struct{}),
		stop:        make(chan struct{}),
		logger:      logger.With(ctx),
	}
	go s.readLoop()
	go s.keepAlive()

	s.logger.Info("Deepgram stream opened", zap.String("model", l.cfg.Model), zap.Int("sample_rate", sampleRate))
	return s, nil
}

type stream struct {
	conn        *websocket.Conn
	transcripts chan pipeline.Transcript
	done        chan struct{}
	stop        chan struct{}
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMu     sync.Mutex
	logger      *zap.Logger
}

type resultMessage struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *stream) readLoop() {
	defer func() {
		close(s.transcripts)
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Deepgram read failed", zap.Error(err))
			}
			return
		}

		var msg resultMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}

		t := pipeline.Transcript{
			Text:        strings.TrimSpace(msg.Channel.Alternatives[0].Transcript),
			IsFinal:     msg.IsFinal,
			SpeechFinal: msg.SpeechFinal,
			Duration:    msg.Duration,
		}
		if t.Text == "" && !t.SpeechFinal {
			continue
		}
		select {
		case s.transcripts <- t:
		case <-s.stop:
			return
		}
	}
}

// keepAlive stops the server from timing out while the caller is silent or not yet connected.
func (s *stream) keepAlive() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeControl(`{"type":"KeepAlive"}`); err != nil {
				return
			}
		}
	}
}

func (s *stream) writeControl(msg string) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *stream) SendAudio(pcm []int16) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, pipeline.PCMToBytes(pcm))
}

func (s *stream) Transcripts() <-chan pipeline.Transcript {
	return s.transcripts
}

// Close asks the server to flush, then tears the socket down.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.writeControl(`{"type":"CloseStream"}`)
		s.closed.Store(true)

		select {
		case <-s.done:
		case <-time.After(time.Second):
		}
		close(s.stop)
		err = s.conn.Close()
		<-s.done
	})
	return err
}
