// Package mixing sums the audio of the animations playing this tick into one
// block and hands it to the outputs, one of which encodes it for the robot.
package mixing

import (
	"math"

	"github.com/teslashibe/go-animstream/pkg/audiobuf"
)

// SourceState reports whether an input has data for this tick.
type SourceState int

const (
	// SourceNone means the input is idle and is skipped.
	SourceNone SourceState = iota

	// SourceLoading means the input is waiting on audio.
	SourceLoading

	// SourceReady means the input has a frame for this tick.
	SourceReady
)

func (s SourceState) String() string {
	switch s {
	case SourceNone:
		return "none"
	case SourceLoading:
		return "loading"
	case SourceReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ConsoleState is the aggregate of all inputs.
type ConsoleState int

const (
	ConsoleReady ConsoleState = iota
	ConsoleLoading
)

func (s ConsoleState) String() string {
	if s == ConsoleLoading {
		return "loading"
	}
	return "ready"
}

// InputSource feeds one frame per tick into the console.
type InputSource interface {
	State() SourceState
	// PopFrame hands over this tick's frame; nil is silence.
	PopFrame() *audiobuf.Frame
	Volume() float32
	Muted() bool
}

// OutputSource receives the mixed block once per tick.
// samples is nil when no input contributed; it is only valid during the call.
type OutputSource interface {
	ProcessTick(samples []float64)
}

const volumeEpsilon = 1e-4

// Console mixes inputs into outputs. Sources are added once and kept for
// the console's lifetime. It is driven from the tick goroutine only.
type Console struct {
	frameSize int
	inputs    []InputSource
	outputs   []OutputSource
	mix       []float64
	clock     uint64
}

// NewConsole creates a console for frames of frameSize samples.
func NewConsole(frameSize int) *Console {
	if frameSize <= 0 {
		frameSize = audiobuf.SamplesPerFrame
	}
	return &Console{
		frameSize: frameSize,
		mix:       make([]float64, frameSize),
	}
}

// FrameSize returns the block length.
func (c *Console) FrameSize() int { return c.frameSize }

// AddInput registers an input.
func (c *Console) AddInput(in InputSource) {
	c.inputs = append(c.inputs, in)
}

// AddOutput registers an output.
func (c *Console) AddOutput(out OutputSource) {
	c.outputs = append(c.outputs, out)
}

// Update returns ConsoleLoading if any input is waiting on data.
func (c *Console) Update() ConsoleState {
	for _, in := range c.inputs {
		if in.State() == SourceLoading {
			return ConsoleLoading
		}
	}
	return ConsoleReady
}

// ProcessFrame mixes one tick. Ready inputs hand over their frame; muted or
// silent inputs contribute nothing. Outputs get nil when nothing contributed.
func (c *Console) ProcessFrame() {
	clear(c.mix)
	contributed := false

	for _, in := range c.inputs {
		if in.State() != SourceReady {
			continue
		}
		frame := in.PopFrame()
		if frame == nil {
			continue
		}
		vol := float64(in.Volume())
		if in.Muted() || math.Abs(vol) < volumeEpsilon {
			continue
		}

		n := min(len(frame.Samples), c.frameSize)
		if math.Abs(vol-1) < volumeEpsilon {
			for i, s := range frame.Samples[:n] {
				c.mix[i] += float64(s)
			}
		} else {
			for i, s := range frame.Samples[:n] {
				c.mix[i] += float64(s) * vol
			}
		}
		contributed = true
	}

	var out []float64
	if contributed {
		out = c.mix
	}
	for _, o := range c.outputs {
		o.ProcessTick(out)
	}
	c.clock++
}

// AudioClock returns the number of processed ticks.
func (c *Console) AudioClock() uint64 { return c.clock }
