package audiobuf

import "errors"

var (
	// ErrStreamComplete is the panic value when frames are pushed to a closed stream.
	ErrStreamComplete = errors.New("audio stream already complete")

	// ErrStreamOpen is the panic value when a second stream is prepared before
	// the first one is closed.
	ErrStreamOpen = errors.New("audio stream already open")

	// ErrStreamClosed is the panic value when a stream is closed twice.
	ErrStreamClosed = errors.New("audio stream already closed")

	// ErrStreamNotDrained is the panic value when a stream is popped before
	// it is complete and empty.
	ErrStreamNotDrained = errors.New("audio stream not drained")
)
