package audioengine

import "errors"

var (
	// ErrUnknownEvent is returned when an event has no clip or tone.
	ErrUnknownEvent = errors.New("audioengine: unknown event")
	// ErrClosed is returned by PostEvent after Close.
	ErrClosed = errors.New("audioengine: closed")
	// ErrQueueFull is returned when the render queue is full.
	ErrQueueFull = errors.New("audioengine: queue full")
	// ErrUnsupportedFormat is returned for WAV files the bank cannot decode.
	ErrUnsupportedFormat = errors.New("audioengine: unsupported wav format")
)
