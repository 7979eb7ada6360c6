package livekit

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
	"github.com/ClareAI/astra-outbound-caller/internal/domain"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitchtv/twirp"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
)

type fakeSIP struct {
	createReq   *livekit.CreateSIPParticipantRequest
	transferReq *livekit.TransferSIPParticipantRequest
	err         error
}

func (f *fakeSIP) CreateSIPParticipant(_ context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error) {
	f.createReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &livekit.SIPParticipantInfo{ParticipantIdentity: req.ParticipantIdentity}, nil
}

func (f *fakeSIP) TransferSIPParticipant(_ context.Context, req *livekit.TransferSIPParticipantRequest) (*emptypb.Empty, error) {
	f.transferReq = req
	return &emptypb.Empty{}, f.err
}

func sipError(code, status string) error {
	return twirp.NewError(twirp.Unavailable, "call failed").
		WithMeta("sip_status_code", code).
		WithMeta("sip_status", status)
}

func TestDialAnswered(t *testing.T) {
	api := &fakeSIP{}
	g := &SIPGateway{api: api, trunkID: "ST_1"}

	err := g.Dial(context.Background(), DialRequest{RoomName: "call-1", PhoneNumber: "+15550100"})
	require.NoError(t, err)
	assert.Equal(t, domain.DialAnswered, domain.OutcomeOf(err))

	assert.True(t, api.createReq.WaitUntilAnswered)
	assert.Equal(t, "ST_1", api.createReq.SipTrunkId)
	assert.Equal(t, "+15550100", api.createReq.SipCallTo)
	assert.Equal(t, "+15550100", api.createReq.ParticipantIdentity)
	assert.Equal(t, "call-1", api.createReq.RoomName)
}

func TestDialOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		outcome domain.DialOutcome
		code    int
	}{
		{"busy", sipError("486", "Busy Here"), domain.DialBusy, 486},
		{"declined", sipError("600", "Busy Everywhere"), domain.DialBusy, 600},
		{"no answer", sipError("480", "Temporarily Unavailable"), domain.DialNoAnswer, 480},
		{"timeout", sipError("408", "Request Timeout"), domain.DialNoAnswer, 408},
		{"server error", sipError("503", "Service Unavailable"), domain.DialGatewayError, 503},
		{"no metadata", twirp.InternalError("boom"), domain.DialGatewayError, 0},
		{"transport", errors.New("connection refused"), domain.DialGatewayError, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := &SIPGateway{api: &fakeSIP{err: tc.err}, trunkID: "ST_1"}
			err := g.Dial(context.Background(), DialRequest{RoomName: "r", PhoneNumber: "+1"})

			var de *domain.DialError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tc.outcome, de.Outcome)
			assert.Equal(t, tc.code, de.Code)
			assert.Equal(t, tc.outcome, domain.OutcomeOf(err))
		})
	}
}

func TestDialCancelledIsNotGatewayError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &SIPGateway{api: &fakeSIP{err: twirp.InternalErrorWith(context.Canceled)}, trunkID: "ST_1"}

	err := g.Dial(ctx, DialRequest{RoomName: "r", PhoneNumber: "+1"})
	require.ErrorIs(t, err, context.Canceled)
	var de *domain.DialError
	assert.False(t, errors.As(err, &de))
}

func TestTransferAddsTelScheme(t *testing.T) {
	api := &fakeSIP{}
	g := &SIPGateway{api: api}
	require.NoError(t, g.Transfer(context.Background(), "call-1", "+15550100", "+15550199"))
	assert.Equal(t, "tel:+15550199", api.transferReq.TransferTo)
	assert.Equal(t, "+15550100", api.transferReq.ParticipantIdentity)

	require.NoError(t, g.Transfer(context.Background(), "call-1", "+15550100", "sip:desk@example.com"))
	assert.Equal(t, "sip:desk@example.com", api.transferReq.TransferTo)
}

func TestNewSIPGatewayRequiresTrunk(t *testing.T) {
	_, err := NewSIPGateway(config.LiveKitConfig{ServerURL: "wss://x", APIKey: "k", APISecret: "s"})
	assert.Error(t, err)
}

type fakeRoomAPI struct {
	createReq *livekit.CreateRoomRequest
	deleteErr error
}

func (f *fakeRoomAPI) CreateRoom(_ context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	f.createReq = req
	return &livekit.Room{Name: req.Name, Sid: "RM_1"}, nil
}

func (f *fakeRoomAPI) DeleteRoom(context.Context, *livekit.DeleteRoomRequest) (*livekit.DeleteRoomResponse, error) {
	return &livekit.DeleteRoomResponse{}, f.deleteErr
}

func TestRoomService(t *testing.T) {
	api := &fakeRoomAPI{}
	s := &RoomService{api: api, cfg: config.LiveKitConfig{RoomEmptyTTL: 10 * time.Minute, MaxParticipants: 20}}

	room, err := s.CreateRoom(context.Background(), "call-1", `{"phone_number":"+1"}`)
	require.NoError(t, err)
	assert.Equal(t, "RM_1", room.Sid)
	assert.Equal(t, uint32(600), api.createReq.EmptyTimeout)
	assert.Equal(t, uint32(20), api.createReq.MaxParticipants)

	require.NoError(t, s.DeleteRoom(context.Background(), "call-1"))

	api.deleteErr = twirp.NotFoundError("room not found")
	assert.ErrorIs(t, s.DeleteRoom(context.Background(), "call-1"), ErrRoomNotFound)

	api.deleteErr = twirp.InternalError("boom")
	err = s.DeleteRoom(context.Background(), "call-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRoomNotFound)
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(config.LiveKitConfig{APIKey: "key", APISecret: "a-secret-that-is-long-enough"}, "call-1", "agent-call-1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestWaitForParticipant(t *testing.T) {
	r := newRoom("call-1", "agent-call-1", zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.WaitForParticipant(ctx, "+1"), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- r.WaitForParticipant(context.Background(), "+1") }()
	r.signal(r.joined, "+1")
	r.signal(r.joined, "+1")
	require.NoError(t, <-done)

	// already joined participants return immediately
	require.NoError(t, r.WaitForParticipant(context.Background(), "+1"))
}

func TestWatchAttributes(t *testing.T) {
	r := newRoom("call-1", "agent", zap.NewNop())
	ch, cancel := r.WatchAttributes("+1")

	r.notifyAttributes("+2", map[string]string{"sip.callStatus": "hangup"})
	r.notifyAttributes("+1", map[string]string{"sip.callStatus": "active"})
	assert.Equal(t, "active", (<-ch)["sip.callStatus"])

	cancel()
	cancel()
	r.notifyAttributes("+1", map[string]string{"sip.callStatus": "hangup"})
	assert.Empty(t, ch)
}

type fakeView struct {
	mu      sync.Mutex
	attrs   map[string]string
	left    chan struct{}
	changes chan map[string]string
}

func newFakeView() *fakeView {
	return &fakeView{attrs: map[string]string{}, left: make(chan struct{}), changes: make(chan map[string]string, 4)}
}

func (v *fakeView) set(key, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.attrs[key] = value
}

func (v *fakeView) ParticipantAttribute(_, key string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.attrs[key]
	return val, ok
}

func (v *fakeView) ParticipantLeft(string) <-chan struct{} { return v.left }

func (v *fakeView) WatchAttributes(string) (<-chan map[string]string, func()) {
	return v.changes, func() {}
}

func callCfg(mode config.StatusMode) config.CallConfig {
	return config.CallConfig{
		StatusMode:          mode,
		CallStatusAttribute: config.DefaultCallStatusAttribute,
		HangupStatusValue:   config.DefaultHangupStatusValue,
		HangupPollInterval:  5 * time.Millisecond,
	}
}

func awaitReason(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("no hangup signal")
		return ""
	}
}

func TestPollingStatusSource(t *testing.T) {
	view := newFakeView()
	view.set("sip.callStatus", "active")
	src := NewStatusSource(view, callCfg(config.StatusModePoll))
	require.IsType(t, &PollingStatusSource{}, src)

	ch := src.Hangups(context.Background(), "+1")
	select {
	case <-ch:
		t.Fatal("signalled while call is active")
	case <-time.After(20 * time.Millisecond):
	}

	view.set("sip.callStatus", "hangup")
	assert.Equal(t, HangupReasonStatus, awaitReason(t, ch))
}

func TestEventStatusSource(t *testing.T) {
	view := newFakeView()
	src := NewStatusSource(view, callCfg(config.StatusModeEvent))
	require.IsType(t, &EventStatusSource{}, src)

	ch := src.Hangups(context.Background(), "+1")
	view.changes <- map[string]string{"sip.callStatus": "active"}
	view.changes <- map[string]string{"sip.callStatus": "hangup"}
	assert.Equal(t, HangupReasonStatus, awaitReason(t, ch))
}

func TestStatusSourceDisconnect(t *testing.T) {
	for _, mode := range []config.StatusMode{config.StatusModePoll, config.StatusModeEvent} {
		view := newFakeView()
		ch := NewStatusSource(view, callCfg(mode)).Hangups(context.Background(), "+1")
		close(view.left)
		assert.Equal(t, HangupReasonDisconnected, awaitReason(t, ch), string(mode))
	}
}

func TestStatusSourceStopsOnCancel(t *testing.T) {
	view := newFakeView()
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewStatusSource(view, callCfg(config.StatusModePoll)).Hangups(ctx, "+1")
	cancel()
	view.set("sip.callStatus", "hangup")
	select {
	case <-ch:
		t.Fatal("signalled after cancel")
	case <-time.After(30 * time.Millisecond):
	}
}

type captureTrack struct {
	samples []media.Sample
}

func (c *captureTrack) WriteSample(s media.Sample, _ *lksdk.SampleWriteOptions) error {
	c.samples = append(c.samples, s)
	return nil
}

func TestOpusRoundTrip(t *testing.T) {
	track := &captureTrack{}
	closed := false
	sink, err := newOpusSink(track, func() error { closed = true; return nil })
	require.NoError(t, err)

	pcm := make([]int16, config.DefaultFrameSamples)
	for i := range pcm {
		pcm[i] = int16((i % 100) * 50)
	}
	require.NoError(t, sink.WriteFrame(pcm))
	require.NoError(t, sink.WriteFrame(pcm[:100]))
	require.Len(t, track.samples, 2)
	assert.Equal(t, 20*time.Millisecond, track.samples[0].Duration)

	packets := []*rtp.Packet{
		{Payload: nil},
		{Payload: []byte{0xf8}},
		{Payload: track.samples[0].Data},
	}
	src, err := newTrackSourceFrom("+1", func() (*rtp.Packet, error) {
		if len(packets) == 0 {
			return nil, errors.New("track ended")
		}
		p := packets[0]
		packets = packets[1:]
		return p, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "+1", src.Identity())

	dtx, err := src.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, dtx, config.DefaultFrameSamples)

	frame, err := src.ReadFrame()
	require.NoError(t, err)
	assert.Len(t, frame, config.DefaultFrameSamples)

	_, err = src.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.True(t, closed)
	assert.ErrorIs(t, sink.WriteFrame(pcm), io.ErrClosedPipe)
}
