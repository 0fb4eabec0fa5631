package mixing

import (
	"log/slog"

	"github.com/teslashibe/go-animstream/pkg/mulaw"
	"github.com/teslashibe/go-animstream/pkg/protocol"
)

// RobotAudioOutput encodes each mixed block to µ-law and wraps it in an
// audio message for the robot. Ticks with no audio become silence messages.
type RobotAudioOutput struct {
	packetizer *protocol.AudioPacketizer
	logger     *slog.Logger

	codes   []byte
	queue   []*protocol.RobotMessage
	samples uint64
	silence uint64
	errors  uint64
}

// NewRobotAudioOutput creates an output producing messages with packetizer.
func NewRobotAudioOutput(packetizer *protocol.AudioPacketizer, logger *slog.Logger) *RobotAudioOutput {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotAudioOutput{
		packetizer: packetizer,
		logger:     logger.With("component", "robot_audio"),
	}
}

// ProcessTick implements OutputSource.
func (o *RobotAudioOutput) ProcessTick(samples []float64) {
	if samples == nil {
		o.queue = append(o.queue, o.packetizer.Silence())
		o.silence++
		return
	}

	o.codes = mulaw.EncodeFloat64Samples(o.codes[:0], samples)
	msg, err := o.packetizer.Sample(o.codes)
	if err != nil {
		o.errors++
		o.logger.Error("encode audio sample", "error", err)
		msg = o.packetizer.Silence()
	}
	o.queue = append(o.queue, msg)
	o.samples++
}

// PopMessage returns the oldest queued message, or nil.
func (o *RobotAudioOutput) PopMessage() *protocol.RobotMessage {
	if len(o.queue) == 0 {
		return nil
	}
	m := o.queue[0]
	o.queue[0] = nil
	o.queue = o.queue[1:]
	return m
}

// HasMessage reports whether a message is queued.
func (o *RobotAudioOutput) HasMessage() bool { return len(o.queue) > 0 }

// Clear releases queued messages.
func (o *RobotAudioOutput) Clear() {
	for _, m := range o.queue {
		m.Release()
	}
	o.queue = nil
}

// OutputStats counts produced messages.
type OutputStats struct {
	Samples uint64 `json:"samples"`
	Silence uint64 `json:"silence"`
	Errors  uint64 `json:"errors"`
}

// Stats returns the counters.
func (o *RobotAudioOutput) Stats() OutputStats {
	return OutputStats{Samples: o.samples, Silence: o.silence, Errors: o.errors}
}
