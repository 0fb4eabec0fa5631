package animation

import "errors"

var (
	// ErrNotFound is returned when an animation is not registered.
	ErrNotFound = errors.New("animation not found")

	// ErrInvalidAnimation is returned when an animation file is malformed.
	ErrInvalidAnimation = errors.New("invalid animation data")
)
