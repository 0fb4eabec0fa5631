package protocol

import "errors"

var (
	// ErrMissingType is returned for a control envelope without a type.
	ErrMissingType = errors.New("message type missing")

	// ErrShortFrame is returned when a binary frame has no tag byte.
	ErrShortFrame = errors.New("robot message too short")

	// ErrUnknownTag is returned for a tag outside the known range.
	ErrUnknownTag = errors.New("unknown robot message tag")

	// ErrWrongTag is returned when a typed decoder is handed another tag.
	ErrWrongTag = errors.New("unexpected robot message tag")

	// ErrAudioTooLarge is returned when audio codes do not fit one packet.
	ErrAudioTooLarge = errors.New("audio frame exceeds packet size")
)
