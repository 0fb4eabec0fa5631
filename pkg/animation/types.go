// Package animation provides canned robot animations.
//
// An animation is a set of keyframe tracks (audio events, face, head, lift,
// body, events and backpack lights), each sorted by trigger time. Animations
// are immutable once loaded; playback keeps its own cursors over them.
package animation

import (
	"encoding/json"

	"github.com/teslashibe/go-animstream/pkg/protocol"
)

// AudioKeyframe posts a sound bank event to the audio engine.
type AudioKeyframe struct {
	TriggerTimeMs int     `json:"trigger_time_ms"`
	EventName     string  `json:"event"`
	Volume        float32 `json:"volume"`
	Probability   float32 `json:"probability"`
	HasAlternates bool    `json:"has_alternates,omitempty"`
}

// UnmarshalJSON defaults Volume and Probability to 1.
func (k *AudioKeyframe) UnmarshalJSON(b []byte) error {
	type plain AudioKeyframe
	p := plain{Volume: 1, Probability: 1}
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*k = AudioKeyframe(p)
	return nil
}

// DeviceAudioKeyframe plays an audio event on the companion device.
type DeviceAudioKeyframe struct {
	TriggerTimeMs int `json:"trigger_time_ms"`
	protocol.DeviceAudio
}

// FaceKeyframe shows a face image.
type FaceKeyframe struct {
	TriggerTimeMs int `json:"trigger_time_ms"`
	protocol.FaceImage
}

// HeadKeyframe moves the head.
type HeadKeyframe struct {
	TriggerTimeMs int `json:"trigger_time_ms"`
	protocol.HeadAngle
}

// LiftKeyframe moves the lift.
type LiftKeyframe struct {
	TriggerTimeMs int `json:"trigger_time_ms"`
	protocol.LiftHeight
}

// BodyKeyframe drives the treads.
type BodyKeyframe struct {
	TriggerTimeMs int `json:"trigger_time_ms"`
	protocol.BodyMotion
}

// EventKeyframe fires an animation event.
type EventKeyframe struct {
	TriggerTimeMs int `json:"trigger_time_ms"`
	protocol.AnimEvent
}

// BackpackKeyframe sets the backpack lights.
type BackpackKeyframe struct {
	TriggerTimeMs int `json:"trigger_time_ms"`
	protocol.BackpackLights
}

// TriggerTime implementations let Cursor walk any track.
func (k AudioKeyframe) TriggerTime() int       { return k.TriggerTimeMs }
func (k DeviceAudioKeyframe) TriggerTime() int { return k.TriggerTimeMs }
func (k FaceKeyframe) TriggerTime() int        { return k.TriggerTimeMs }
func (k HeadKeyframe) TriggerTime() int        { return k.TriggerTimeMs }
func (k LiftKeyframe) TriggerTime() int        { return k.TriggerTimeMs }
func (k BodyKeyframe) TriggerTime() int        { return k.TriggerTimeMs }
func (k EventKeyframe) TriggerTime() int       { return k.TriggerTimeMs }
func (k BackpackKeyframe) TriggerTime() int    { return k.TriggerTimeMs }

// Animation is a loaded, immutable canned animation.
type Animation struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Audio          []AudioKeyframe       `json:"audio,omitempty"`
	DeviceAudio    []DeviceAudioKeyframe `json:"device_audio,omitempty"`
	Face           []FaceKeyframe        `json:"face,omitempty"`
	Head           []HeadKeyframe        `json:"head,omitempty"`
	Lift           []LiftKeyframe        `json:"lift,omitempty"`
	Body           []BodyKeyframe        `json:"body,omitempty"`
	Events         []EventKeyframe       `json:"events,omitempty"`
	BackpackLights []BackpackKeyframe    `json:"backpack_lights,omitempty"`
}

// LastKeyframeTimeMs returns the latest trigger time over all tracks.
func (a *Animation) LastKeyframeTimeMs() int {
	last := 0
	last = max(last, lastTime(a.Audio))
	last = max(last, lastTime(a.DeviceAudio))
	last = max(last, lastTime(a.Face))
	last = max(last, lastTime(a.Head))
	last = max(last, lastTime(a.Lift))
	last = max(last, lastTime(a.Body))
	last = max(last, lastTime(a.Events))
	last = max(last, lastTime(a.BackpackLights))
	return last
}

// IsEmpty reports whether no track has a keyframe.
func (a *Animation) IsEmpty() bool {
	return len(a.Audio)+len(a.DeviceAudio)+len(a.Face)+len(a.Head)+
		len(a.Lift)+len(a.Body)+len(a.Events)+len(a.BackpackLights) == 0
}

// KeyframeCount returns the number of keyframes across all tracks.
func (a *Animation) KeyframeCount() int {
	return len(a.Audio) + len(a.DeviceAudio) + len(a.Face) + len(a.Head) +
		len(a.Lift) + len(a.Body) + len(a.Events) + len(a.BackpackLights)
}

func lastTime[K Keyframe](track []K) int {
	if len(track) == 0 {
		return 0
	}
	return track[len(track)-1].TriggerTime()
}
