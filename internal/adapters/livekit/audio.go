package livekit

import (
	"fmt"
	"io"
	"sync"

	"github.com/ClareAI/astra-outbound-caller/internal/config"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"layeh.com/gopus"
)

const (
	// maxDecodeSamples leaves room for 40ms frames.
	maxDecodeSamples = 2 * config.DefaultFrameSamples
	maxOpusFrame     = 4000
	// payloads this short are DTX comfort-noise frames
	dtxPayloadSize = 3
)

type readRTPFunc func() (*rtp.Packet, error)

// trackSource decodes a remote Opus track into 48kHz mono PCM.
type trackSource struct {
	identity string
	readRTP  readRTPFunc
	decoder  *gopus.Decoder
}

func newTrackSource(identity string, track *webrtc.TrackRemote) (*trackSource, error) {
	return newTrackSourceFrom(identity, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
}

func newTrackSourceFrom(identity string, readRTP readRTPFunc) (*trackSource, error) {
	dec, err := gopus.NewDecoder(config.DefaultSampleRate, config.DefaultChannelsMono)
	if err != nil {
		return nil, err
	}
	return &trackSource{identity: identity, readRTP: readRTP, decoder: dec}, nil
}

func (s *trackSource) Identity() string { return s.identity }

// ReadFrame returns the next decoded frame, or io.EOF once the track ends.
func (s *trackSource) ReadFrame() ([]int16, error) {
	for {
		pkt, err := s.readRTP()
		if err != nil {
			return nil, io.EOF
		}

		payload := pkt.Payload
		if len(payload) == 0 {
			continue
		}
		if len(payload) < dtxPayloadSize {
			return make([]int16, config.DefaultFrameSamples), nil
		}

		pcm, err := s.decoder.Decode(payload, maxDecodeSamples, false)
		if err != nil || len(pcm) == 0 {
			continue
		}
		return pcm, nil
	}
}

type sampleWriter interface {
	WriteSample(sample media.Sample, opts *lksdk.SampleWriteOptions) error
}

// opusSink encodes 20ms PCM frames and writes them to the published track.
type opusSink struct {
	track   sampleWriter
	encoder *gopus.Encoder
	onClose func() error

	mu     sync.Mutex
	closed bool
}

func newOpusSink(track sampleWriter, onClose func() error) (*opusSink, error) {
	enc, err := gopus.NewEncoder(config.DefaultSampleRate, config.DefaultChannelsMono, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("create Opus encoder: %w", err)
	}
	enc.SetBitrate(config.DefaultOpusBitrate)
	return &opusSink{track: track, encoder: enc, onClose: onClose}, nil
}

func (s *opusSink) WriteFrame(pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}

	if len(pcm) < config.DefaultFrameSamples {
		padded := make([]int16, config.DefaultFrameSamples)
		copy(padded, pcm)
		pcm = padded
	}

	data, err := s.encoder.Encode(pcm[:config.DefaultFrameSamples], config.DefaultFrameSamples, maxOpusFrame)
	if err != nil {
		return fmt.Errorf("encode Opus frame: %w", err)
	}
	// Duration must match the Opus frame size to avoid drift.
	return s.track.WriteSample(media.Sample{Data: data, Duration: config.DefaultFrameDuration}, nil)
}

func (s *opusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.onClose != nil {
		return s.onClose()
	}
	return nil
}
