// Package msgbuffer queues outbound robot messages and paces them by the
// credit the robot reports back.
package msgbuffer

import (
	"fmt"
	"log/slog"
)

const (
	// KeyframeBufferSize is the robot's receive buffer capacity in bytes.
	KeyframeBufferSize = 16384

	// TickPeriodMs is the engine tick period.
	TickPeriodMs = 33

	// ReliableBytesPerMs caps what the reliable transport carries per millisecond.
	ReliableBytesPerMs = 1000 / 2

	// MaxBytesPerTick is the per-tick byte cap for the reliable transport.
	MaxBytesPerTick = ReliableBytesPerMs * TickPeriodMs

	// OneWayLatencyMs is the assumed network latency.
	OneWayLatencyMs = 200

	// SampleLengthMs is the duration of one audio frame.
	SampleLengthMs = 33
)

// LeadFrames is the number of audio frames kept in flight by default.
var LeadFrames = LeadFramesFor(OneWayLatencyMs, TickPeriodMs, SampleLengthMs)

// LeadFramesFor returns the audio frames needed to cover a round trip plus
// one tick: ceil((2*latency + tick) / sample).
func LeadFramesFor(latencyMs, tickMs, sampleMs int) int32 {
	if sampleMs <= 0 {
		return 0
	}
	span := 2*latencyMs + tickMs
	return int32((span + sampleMs - 1) / sampleMs)
}

// FlowConfig holds the credit parameters.
type FlowConfig struct {
	Capacity        int32 `yaml:"capacity" json:"capacity"`                     // Robot receive buffer in bytes
	MaxBytesPerTick int32 `yaml:"max_bytes_per_tick" json:"max_bytes_per_tick"` // Reliable transport cap
	LeadFrames      int32 `yaml:"lead_frames" json:"lead_frames"`               // Audio frames in flight
}

// DefaultFlowConfig returns the robot's defaults.
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		Capacity:        KeyframeBufferSize,
		MaxBytesPerTick: MaxBytesPerTick,
		LeadFrames:      LeadFrames,
	}
}

// Validate checks the configuration.
func (c FlowConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive: %d", c.Capacity)
	}
	if c.MaxBytesPerTick <= 0 {
		return fmt.Errorf("max_bytes_per_tick must be positive: %d", c.MaxBytesPerTick)
	}
	if c.LeadFrames <= 0 {
		return fmt.Errorf("lead_frames must be positive: %d", c.LeadFrames)
	}
	return nil
}

// Credit computes per-tick send budgets from robot counters.
// Counters are cumulative and wrap, so differences use int32 arithmetic.
type Credit struct {
	cfg    FlowConfig
	logger *slog.Logger

	// OnClamp, if set, is called each time a negative free space is clamped.
	OnClamp func(kind string)
}

// NewCredit creates a credit calculator.
func NewCredit(cfg FlowConfig, logger *slog.Logger) *Credit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Credit{cfg: cfg, logger: logger.With("component", "flow")}
}

// Config returns the configuration.
func (c *Credit) Config() FlowConfig {
	return c.cfg
}

// CalculateNumberOfBytesToSend returns min(free, MaxBytesPerTick) where
// free = Capacity - (streamed - played), clamped at 0.
func (c *Credit) CalculateNumberOfBytesToSend(streamed, played int32) int32 {
	inFlight := streamed - played
	free := c.cfg.Capacity - inFlight
	if free < 0 {
		c.clamped("bytes", streamed, played, free)
		free = 0
	}
	return min(free, c.cfg.MaxBytesPerTick)
}

// CalculateNumberOfFramesToSend returns max(0, LeadFrames - (streamed - played)).
func (c *Credit) CalculateNumberOfFramesToSend(streamed, played int32) int32 {
	inFlight := streamed - played
	free := c.cfg.LeadFrames - inFlight
	if free < 0 {
		c.clamped("audio_frames", streamed, played, free)
		free = 0
	}
	return free
}

func (c *Credit) clamped(kind string, streamed, played, free int32) {
	if streamed < 0 && played > 0 {
		c.logger.Warn("streamed counter overflowed",
			"kind", kind, "streamed", streamed, "played", played)
	} else {
		c.logger.Warn("negative free space clamped to zero",
			"kind", kind, "streamed", streamed, "played", played, "free", free)
	}
	if c.OnClamp != nil {
		c.OnClamp(kind)
	}
}
