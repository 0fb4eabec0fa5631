// Package audioengine renders animation audio events from a sound bank of
// WAV files into streaming audio buffers.
package audioengine

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-animstream/pkg/audiobuf"
)

// Tone synthesizes a sine clip for an event that has no WAV file.
type Tone struct {
	FrequencyHz float64 `yaml:"frequency_hz" json:"frequency_hz"`
	DurationMs  int     `yaml:"duration_ms" json:"duration_ms"`
	Amplitude   float64 `yaml:"amplitude" json:"amplitude"`
}

// Config holds audio engine configuration.
type Config struct {
	// SoundBankDir holds <event>.wav files. Empty means tones only.
	SoundBankDir string `yaml:"sound_bank_dir" json:"sound_bank_dir"`

	// SampleRate clips are resampled to.
	// Default: 24000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// FrameSize is the number of samples per UpdateBuffer call.
	// Default: 792
	FrameSize int `yaml:"frame_size" json:"frame_size"`

	// RealTime paces UpdateBuffer calls at the playback rate instead of
	// rendering as fast as possible.
	RealTime bool `yaml:"real_time" json:"real_time"`

	// QueueSize bounds the number of events waiting to render.
	// Default: 32
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// CacheTTLSec is how long decoded clips stay cached.
	// Default: 600
	CacheTTLSec int `yaml:"cache_ttl_sec" json:"cache_ttl_sec"`

	// Tones maps event names to synthesized clips.
	Tones map[string]Tone `yaml:"tones" json:"tones"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:  audiobuf.SampleRate,
		FrameSize:   audiobuf.SamplesPerFrame,
		QueueSize:   32,
		CacheTTLSec: 600,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame_size must be positive, got %d", c.FrameSize)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	for name, t := range c.Tones {
		if t.FrequencyHz <= 0 || t.DurationMs <= 0 {
			return fmt.Errorf("tone %q: frequency and duration must be positive", name)
		}
		if t.Amplitude < 0 || t.Amplitude > 1 {
			return fmt.Errorf("tone %q: amplitude must be in [0,1], got %g", name, t.Amplitude)
		}
	}
	return nil
}

// FrameDuration is the playback time of one FrameSize chunk.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameSize) * time.Second / time.Duration(c.SampleRate)
}

func (c Config) cacheTTL() time.Duration {
	if c.CacheTTLSec <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.CacheTTLSec) * time.Second
}
