package interleaver

import "errors"

var (
	// ErrQueueFull is returned when two animations are already queued.
	ErrQueueFull = errors.New("interleaver: animation queue full")

	// ErrNoSource is returned when every audio input source is in use.
	ErrNoSource = errors.New("interleaver: no audio input source available")
)
