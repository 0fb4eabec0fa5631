package streamer

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-animstream/pkg/msgbuffer"
	"github.com/teslashibe/go-animstream/pkg/streaming"
)

// Config holds the tick loop settings.
type Config struct {
	TickPeriodMs   int                  `yaml:"tick_period_ms" json:"tick_period_ms"`
	Flow           msgbuffer.FlowConfig `yaml:"flow" json:"flow"`
	DefaultMode    string               `yaml:"default_mode" json:"default_mode"`       // robot or device
	HeartbeatTicks int                  `yaml:"heartbeat_ticks" json:"heartbeat_ticks"` // 0 disables
}

// DefaultConfig returns one tick per audio frame with the robot's flow limits.
func DefaultConfig() Config {
	return Config{
		TickPeriodMs:   msgbuffer.TickPeriodMs,
		Flow:           msgbuffer.DefaultFlowConfig(),
		DefaultMode:    streaming.PlayOnRobot.String(),
		HeartbeatTicks: 100,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TickPeriodMs <= 0 {
		return fmt.Errorf("tick_period_ms must be positive: %d", c.TickPeriodMs)
	}
	if c.HeartbeatTicks < 0 {
		return fmt.Errorf("heartbeat_ticks must not be negative: %d", c.HeartbeatTicks)
	}
	if _, err := streaming.ParsePlaybackMode(c.DefaultMode); err != nil {
		return err
	}
	if err := c.Flow.Validate(); err != nil {
		return fmt.Errorf("flow: %w", err)
	}
	return nil
}

// TickPeriod returns the tick interval.
func (c Config) TickPeriod() time.Duration {
	return time.Duration(c.TickPeriodMs) * time.Millisecond
}
