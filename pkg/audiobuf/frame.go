// Package audiobuf holds the PCM frames produced by the audio engine until the
// animation tick consumes them.
//
// A Buffer is a FIFO of Streams. The audio engine fills the back stream
// through the BufferSink methods from its own goroutine while the tick
// goroutine drains the front one.
package audiobuf

const (
	// SampleRate is the robot speaker rate in Hz.
	SampleRate = 24000

	// SampleLengthMs is the duration of one frame, equal to one animation tick.
	SampleLengthMs = 33

	// SamplesPerFrame is the number of mono samples in a frame.
	SamplesPerFrame = SampleRate * SampleLengthMs / 1000
)

// Frame is one fixed-size block of mono PCM in [-1, 1].
// A nil *Frame stands for a frame of silence.
type Frame struct {
	Samples []float32
}

// NewFrame returns a zeroed frame of n samples.
func NewFrame(n int) *Frame {
	return &Frame{Samples: make([]float32, n)}
}

// Len returns the number of samples, 0 for a nil frame.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Samples)
}

// IsSilence reports whether the frame is nil or all zero.
func (f *Frame) IsSilence() bool {
	if f == nil {
		return true
	}
	for _, s := range f.Samples {
		if s != 0 {
			return false
		}
	}
	return true
}
