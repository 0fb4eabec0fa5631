package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Tag identifies the track a RobotMessage belongs to.
type Tag uint8

const (
	TagAudioSample Tag = iota + 1
	TagAudioSilence
	TagStartOfAnimation
	TagEndOfAnimation
	TagDeviceAudio
	TagFaceImage
	TagHeadAngle
	TagLiftHeight
	TagBodyMotion
	TagEvent
	TagBackpackLights

	tagMax
)

var tagNames = [...]string{
	TagAudioSample:      "audio_sample",
	TagAudioSilence:     "audio_silence",
	TagStartOfAnimation: "start_of_animation",
	TagEndOfAnimation:   "end_of_animation",
	TagDeviceAudio:      "device_audio",
	TagFaceImage:        "face_image",
	TagHeadAngle:        "head_angle",
	TagLiftHeight:       "lift_height",
	TagBodyMotion:       "body_motion",
	TagEvent:            "event",
	TagBackpackLights:   "backpack_lights",
}

func (t Tag) String() string {
	if t == 0 || t >= tagMax {
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
	return tagNames[t]
}

// Valid reports whether t is a known tag.
func (t Tag) Valid() bool {
	return t > 0 && t < tagMax
}

// RobotMessage is one binary frame on the animation stream:
// [tag:1][payload].
type RobotMessage struct {
	Tag     Tag
	Payload []byte

	pooled *[]byte
}

// Size is the encoded length in bytes, used for flow control.
func (m *RobotMessage) Size() int {
	return 1 + len(m.Payload)
}

// IsAudioFrame reports whether the message accounts for one audio frame.
func (m *RobotMessage) IsAudioFrame() bool {
	return m.Tag == TagAudioSample || m.Tag == TagAudioSilence
}

// MarshalBinary encodes the frame.
func (m *RobotMessage) MarshalBinary() ([]byte, error) {
	if !m.Tag.Valid() {
		return nil, fmt.Errorf("marshal %s: %w", m.Tag, ErrUnknownTag)
	}
	out := make([]byte, m.Size())
	out[0] = byte(m.Tag)
	copy(out[1:], m.Payload)
	return out, nil
}

// UnmarshalBinary decodes a frame. The payload is copied.
func (m *RobotMessage) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return ErrShortFrame
	}
	tag := Tag(data[0])
	if !tag.Valid() {
		return fmt.Errorf("unmarshal %s: %w", tag, ErrUnknownTag)
	}
	m.Tag = tag
	m.Payload = append([]byte(nil), data[1:]...)
	m.pooled = nil
	return nil
}

// Release returns a pooled payload buffer. The message must not be used
// afterwards. Calling it on a message that was not pooled is a no-op.
func (m *RobotMessage) Release() {
	if m.pooled == nil {
		return
	}
	*m.pooled = m.Payload[:0]
	payloadPool.Put(m.pooled)
	m.pooled = nil
	m.Payload = nil
}

func (m *RobotMessage) String() string {
	return fmt.Sprintf("%s(%d bytes)", m.Tag, m.Size())
}

// ParseRobotMessage decodes a binary frame.
func ParseRobotMessage(data []byte) (*RobotMessage, error) {
	var m RobotMessage
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &m, nil
}

var payloadPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 1024)
		return &b
	},
}

func pooledMessage(tag Tag, size int) *RobotMessage {
	bp := payloadPool.Get().(*[]byte)
	buf := *bp
	if cap(buf) < size {
		buf = make([]byte, size)
	}
	return &RobotMessage{Tag: tag, Payload: buf[:size], pooled: bp}
}

func newJSONMessage(tag Tag, v any) (*RobotMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return &RobotMessage{Tag: tag, Payload: payload}, nil
}

// Decode unmarshals the JSON payload of m into a T after checking the tag.
func Decode[T any](m *RobotMessage, tag Tag) (T, error) {
	var v T
	if m.Tag != tag {
		return v, fmt.Errorf("decode %s as %s: %w", m.Tag, tag, ErrWrongTag)
	}
	if err := json.Unmarshal(m.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", tag, err)
	}
	return v, nil
}
