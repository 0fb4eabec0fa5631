package streamer

import "errors"

var (
	// ErrQueueFull is returned by Play when the interleaver cannot take
	// another animation.
	ErrQueueFull = errors.New("streamer: animation queue full")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("streamer: already running")
)
