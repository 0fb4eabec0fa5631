package protocol

import (
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const (
	// PayloadTypePCMU is the static RTP payload type for G.711 µ-law.
	PayloadTypePCMU = 0

	// AudioMTU bounds one encoded audio packet, header included.
	AudioMTU = 1200

	rtpHeaderSize = 12
)

// AudioPacketizer turns per-tick µ-law blocks into AudioSample messages.
// Sequence numbers and timestamps advance across samples and silence so the
// robot can detect gaps. It is not safe for concurrent use.
type AudioPacketizer struct {
	ssrc       uint32
	packetizer rtp.Packetizer
	samples    uint32
	sent       uint64
}

// NewAudioPacketizer creates a packetizer for a stream identified by ssrc.
// samplesPerFrame advances the RTP timestamp for every frame, silence included.
func NewAudioPacketizer(ssrc uint32, sampleRate, samplesPerFrame int, opts ...rtp.PacketizerOption) *AudioPacketizer {
	opts = append([]rtp.PacketizerOption{
		rtp.WithSSRC(ssrc),
		rtp.WithPayloadType(PayloadTypePCMU),
	}, opts...)
	return &AudioPacketizer{
		ssrc: ssrc,
		packetizer: rtp.NewPacketizerWithOptions(
			AudioMTU,
			&codecs.G711Payloader{},
			rtp.NewRandomSequencer(),
			uint32(sampleRate),
			opts...,
		),
		samples: uint32(samplesPerFrame),
	}
}

// SSRC returns the stream identifier.
func (p *AudioPacketizer) SSRC() uint32 {
	return p.ssrc
}

// Sample wraps codes, one tick of µ-law audio, in an AudioSample message.
// The payload comes from a pool; the message buffer releases it after sending.
func (p *AudioPacketizer) Sample(codes []byte) (*RobotMessage, error) {
	if len(codes)+rtpHeaderSize > AudioMTU {
		return nil, fmt.Errorf("%d codes: %w", len(codes), ErrAudioTooLarge)
	}
	packets := p.packetizer.Packetize(codes, p.samples)
	if len(packets) != 1 {
		return nil, fmt.Errorf("%d codes produced %d packets: %w", len(codes), len(packets), ErrAudioTooLarge)
	}
	pkt := packets[0]
	msg := pooledMessage(TagAudioSample, pkt.MarshalSize())
	n, err := pkt.MarshalTo(msg.Payload)
	if err != nil {
		msg.Release()
		return nil, fmt.Errorf("marshal audio packet: %w", err)
	}
	msg.Payload = msg.Payload[:n]
	p.sent++
	return msg, nil
}

// Silence returns an AudioSilence message and advances the timestamp by one frame.
func (p *AudioPacketizer) Silence() *RobotMessage {
	p.packetizer.SkipSamples(p.samples)
	p.sent++
	return &RobotMessage{Tag: TagAudioSilence}
}

// Frames returns the number of audio messages produced.
func (p *AudioPacketizer) Frames() uint64 {
	return p.sent
}

// DecodeAudioSample parses the RTP packet inside an AudioSample message.
func DecodeAudioSample(m *RobotMessage) (*rtp.Packet, error) {
	if m.Tag != TagAudioSample {
		return nil, fmt.Errorf("decode %s as %s: %w", m.Tag, TagAudioSample, ErrWrongTag)
	}
	var pkt rtp.Packet
	if err := pkt.Unmarshal(m.Payload); err != nil {
		return nil, fmt.Errorf("decode audio packet: %w", err)
	}
	return &pkt, nil
}
