package streaming

import (
	"fmt"

	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/audiobuf"
)

// TrackFrame is everything one tick of an animation produces.
// Nil keyframe pointers mean the track has nothing this tick.
type TrackFrame struct {
	Index  int
	TimeMs int

	// Audio is the robot audio for this tick; nil is silence.
	Audio *audiobuf.Frame

	DeviceAudio    *animation.DeviceAudioKeyframe
	Face           *animation.FaceKeyframe
	Head           *animation.HeadKeyframe
	Lift           *animation.LiftKeyframe
	Body           *animation.BodyKeyframe
	Event          *animation.EventKeyframe
	BackpackLights *animation.BackpackKeyframe
}

// Reset clears f for reuse.
func (f *TrackFrame) Reset() {
	*f = TrackFrame{}
}

// CanPlayNextFrame reports whether TickPlayhead may be called: a frame is
// buffered ahead of the playhead, or buffering completed.
func (s *StreamingAnimation) CanPlayNextFrame() bool {
	switch s.State() {
	case BufferCompleted:
		return true
	case BufferReady:
		return len(s.pending) > 0
	default:
		return false
	}
}

// TickPlayhead advances one tick and fills out. It panics when
// CanPlayNextFrame is false.
func (s *StreamingAnimation) TickPlayhead(out *TrackFrame) {
	if !s.CanPlayNextFrame() {
		panic(fmt.Sprintf("streaming: %s: TickPlayhead at frame %d in state %s with %d buffered",
			s.anim.Name, s.playheadFrame, s.State(), len(s.pending)))
	}

	out.Reset()
	out.Index = s.playheadFrame
	out.TimeMs = s.playheadTimeMs

	if len(s.pending) > 0 {
		out.Audio = s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
	}

	until := s.playheadTimeMs + SampleLengthMs
	if s.mode == PlayOnDevice {
		s.postDueDeviceEvents(until)
	}
	out.DeviceAudio = due(s.deviceAudio, until)
	out.Face = due(s.face, until)
	out.Head = due(s.head, until)
	out.Lift = due(s.lift, until)
	out.Body = due(s.body, until)
	out.Event = due(s.event, until)
	out.BackpackLights = due(s.backpack, until)

	s.playheadFrame++
	s.playheadTimeMs += SampleLengthMs
}

func due[K animation.Keyframe](c *animation.Cursor[K], untilMs int) *K {
	k, ok := c.Due(untilMs)
	if !ok {
		return nil
	}
	return &k
}

// postDueDeviceEvents posts, synchronously, device events that fall
// before untilMs.
func (s *StreamingAnimation) postDueDeviceEvents(untilMs int) {
	for _, ev := range s.events {
		if ev.TimeMs >= untilMs {
			break
		}
		if ev.State() == EventPending {
			s.post(ev, nil)
		}
	}
}

// TotalFrameCount is the number of ticks the animation lasts: enough to
// reach the last keyframe, or longer if buffered audio runs past it.
func (s *StreamingAnimation) TotalFrameCount() int {
	return max(s.lastKeyframeMs/SampleLengthMs+1, s.bufferedFrames)
}

// IsPlaybackComplete reports whether the animation has played every frame,
// or was aborted.
func (s *StreamingAnimation) IsPlaybackComplete() bool {
	if s.aborted {
		return true
	}
	return s.State() == BufferCompleted && s.playheadFrame >= s.TotalFrameCount()
}

// HasStarted reports whether a frame has been played.
func (s *StreamingAnimation) HasStarted() bool { return s.playheadFrame > 0 }

// PlayheadFrame returns the index of the next frame to play.
func (s *StreamingAnimation) PlayheadFrame() int { return s.playheadFrame }

// PlayheadTimeMs returns the animation time of the next frame to play.
func (s *StreamingAnimation) PlayheadTimeMs() int { return s.playheadTimeMs }

// BufferedFrameCount returns the number of audio frames buffered so far,
// played ones included.
func (s *StreamingAnimation) BufferedFrameCount() int { return s.bufferedFrames }

// RealFrameCount returns how many buffered frames came from the audio engine.
func (s *StreamingAnimation) RealFrameCount() int { return s.realFrames }

// LastKeyframeTimeMs returns the last keyframe time of the animation.
func (s *StreamingAnimation) LastKeyframeTimeMs() int { return s.lastKeyframeMs }

// Snapshot describes playback progress.
type Snapshot struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Mode           string          `json:"mode"`
	State          string          `json:"state"`
	PlayheadFrame  int             `json:"playhead_frame"`
	PlayheadTimeMs int             `json:"playhead_time_ms"`
	BufferedFrames int             `json:"buffered_frames"`
	TotalFrames    int             `json:"total_frames"`
	Aborted        bool            `json:"aborted,omitempty"`
	Events         []EventSnapshot `json:"events,omitempty"`
}

// Snapshot returns the current progress.
func (s *StreamingAnimation) Snapshot() Snapshot {
	return Snapshot{
		ID:             s.id.String(),
		Name:           s.anim.Name,
		Mode:           s.mode.String(),
		State:          s.State().String(),
		PlayheadFrame:  s.playheadFrame,
		PlayheadTimeMs: s.playheadTimeMs,
		BufferedFrames: s.bufferedFrames,
		TotalFrames:    s.TotalFrameCount(),
		Aborted:        s.aborted,
		Events:         s.Events(),
	}
}
