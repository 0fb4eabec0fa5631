package robotlink

import "errors"

var (
	// ErrNotConnected is returned when sending with no robot attached.
	ErrNotConnected = errors.New("robotlink: no robot connected")

	// ErrNotBinary is returned for messages that cannot be marshaled.
	ErrNotBinary = errors.New("robotlink: message has no binary form")
)
