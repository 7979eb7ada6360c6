package livekit

import (
	"context"
	"fmt"
	"sync"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/ClareAI/astra-outbound-caller/internal/core/pipeline"
	"github.com/ClareAI/astra-outbound-caller/pkg/logger"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const remoteAudioBuffer = 4

// Connector joins rooms as the agent participant.
type Connector struct {
	cfg config.LiveKitConfig
}

func NewConnector(cfg config.LiveKitConfig) (*Connector, error) {
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid LiveKit config: %w", err)
	}
	return &Connector{cfg: cfg}, nil
}

// Room is the agent's connection to one call room.
type Room struct {
	name     string
	identity string
	lk       *lksdk.Room
	logger   *zap.Logger

	mu       sync.Mutex
	joined   map[string]chan struct{}
	left     map[string]chan struct{}
	watchers map[string][]chan map[string]string

	audio chan pipeline.AudioSource

	disconnectOnce sync.Once
}

func newRoom(name, identity string, log *zap.Logger) *Room {
	return &Room{
		name:     name,
		identity: identity,
		logger:   log,
		joined:   make(map[string]chan struct{}),
		left:     make(map[string]chan struct{}),
		watchers: make(map[string][]chan map[string]string),
		audio:    make(chan pipeline.AudioSource, remoteAudioBuffer),
	}
}

// Connect joins roomName as identity and returns once the signal connection is up.
func (c *Connector) Connect(ctx context.Context, roomName, identity string) (*Room, error) {
	token, err := GenerateToken(c.cfg, roomName, identity)
	if err != nil {
		return nil, err
	}

	r := newRoom(roomName, identity, logger.With(ctx).With(zap.String("room_name", roomName)))

	lkRoom, err := lksdk.ConnectToRoomWithToken(c.cfg.ServerURL, token, r.callback())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to room: %w", err)
	}
	r.lk = lkRoom

	r.logger.Info("Agent joined room", zap.String("identity", identity))
	return r, nil
}

func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, _ *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				r.logger.Info("Audio track subscribed", zap.String("participant", rp.Identity()))
				src, err := newTrackSource(rp.Identity(), track)
				if err != nil {
					r.logger.Error("Failed to create Opus decoder", zap.Error(err))
					return
				}
				select {
				case r.audio <- src:
				default:
					r.logger.Warn("Remote audio queue full, dropping track", zap.String("participant", rp.Identity()))
				}
			},
			OnAttributesChanged: func(changed map[string]string, p lksdk.Participant) {
				r.notifyAttributes(p.Identity(), changed)
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.logger.Info("Participant connected", zap.String("participant_identity", rp.Identity()))
			r.signal(r.joined, rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.logger.Info("Participant disconnected", zap.String("participant_identity", rp.Identity()))
			r.signal(r.left, rp.Identity())
		},
		OnDisconnected: func() {
			r.logger.Info("Agent disconnected from room")
		},
	}
}

func (r *Room) Name() string { return r.name }

// channel returns the signal channel for identity, creating it if needed. Caller holds mu.
func channel(m map[string]chan struct{}, identity string) chan struct{} {
	ch, ok := m[identity]
	if !ok {
		ch = make(chan struct{})
		m[identity] = ch
	}
	return ch
}

func (r *Room) signal(m map[string]chan struct{}, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := channel(m, identity)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// WaitForParticipant returns once identity is in the room, including when it joined before the call.
func (r *Room) WaitForParticipant(ctx context.Context, identity string) error {
	r.mu.Lock()
	ch := channel(r.joined, identity)
	r.mu.Unlock()

	if r.lk != nil && r.lk.GetParticipantByIdentity(identity) != nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParticipantLeft is closed once identity disconnects.
func (r *Room) ParticipantLeft(identity string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return channel(r.left, identity)
}

// ParticipantAttribute reads the current value of a participant attribute.
func (r *Room) ParticipantAttribute(identity, key string) (string, bool) {
	if r.lk == nil {
		return "", false
	}
	rp := r.lk.GetParticipantByIdentity(identity)
	if rp == nil {
		return "", false
	}
	v, ok := rp.Attributes()[key]
	return v, ok
}

// WatchAttributes streams attribute changes of identity until the returned cancel is called.
func (r *Room) WatchAttributes(identity string) (<-chan map[string]string, func()) {
	ch := make(chan map[string]string, 8)
	r.mu.Lock()
	r.watchers[identity] = append(r.watchers[identity], ch)
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			list := r.watchers[identity]
			for i, w := range list {
				if w == ch {
					r.watchers[identity] = append(list[:i], list[i+1:]...)
					break
				}
			}
		})
	}
	return ch, cancel
}

func (r *Room) notifyAttributes(identity string, changed map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.watchers[identity] {
		select {
		case w <- changed:
		default:
			r.logger.Warn("Attribute watcher lagging, dropping update", zap.String("participant_identity", identity))
		}
	}
}

// PublishAudio publishes an Opus track fed with 48kHz mono PCM frames.
func (r *Room) PublishAudio(ctx context.Context, trackName string) (pipeline.AudioSink, error) {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   config.DefaultSampleRate,
		Channels:    config.DefaultChannelsMono,
		SDPFmtpLine: "minptime=20;useinbandfec=1;usedtx=0",
	})
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	pub, err := r.lk.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{Name: trackName})
	if err != nil {
		return nil, fmt.Errorf("publish audio track: %w", err)
	}

	sink, err := newOpusSink(track, func() error {
		return r.lk.LocalParticipant.UnpublishTrack(pub.SID())
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Agent audio track published", zap.String("track", trackName))
	return sink, nil
}

// RemoteAudio delivers a source for every subscribed remote audio track.
func (r *Room) RemoteAudio() <-chan pipeline.AudioSource {
	return r.audio
}

// Disconnect leaves the room. The room itself stays up until deleted or empty.
func (r *Room) Disconnect() {
	r.disconnectOnce.Do(func() {
		if r.lk != nil {
			r.lk.Disconnect()
		}
	})
}
