// Package streaming turns one canned animation into a stream of per-tick
// frames, synchronizing audio rendered asynchronously by the audio engine
// with the fixed animation timeline.
package streaming

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/teslashibe/go-animstream/pkg/audiobuf"
)

// BufferState tracks audio buffering for one animation.
// States only move forward.
type BufferState int32

const (
	// BufferNone means buffering has not started.
	BufferNone BufferState = iota

	// BufferWait means buffering started but no frame is available yet.
	BufferWait

	// BufferReady means frames are available ahead of the playhead.
	BufferReady

	// BufferCompleted means every frame the animation needs is buffered.
	BufferCompleted
)

func (s BufferState) String() string {
	switch s {
	case BufferNone:
		return "none"
	case BufferWait:
		return "wait_buffering"
	case BufferReady:
		return "ready_buffering"
	case BufferCompleted:
		return "completed"
	default:
		return fmt.Sprintf("buffer_state(%d)", int32(s))
	}
}

// PlaybackMode selects where audio events are played.
type PlaybackMode int

const (
	// PlayOnRobot renders events into PCM that streams to the robot speaker.
	// Events post as buffering reaches their time.
	PlayOnRobot PlaybackMode = iota

	// PlayOnDevice plays events on the companion device. Events post from
	// TickPlayhead and no PCM is buffered.
	PlayOnDevice
)

func (m PlaybackMode) String() string {
	switch m {
	case PlayOnRobot:
		return "robot"
	case PlayOnDevice:
		return "device"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParsePlaybackMode maps "robot" and "device" to a mode.
func ParsePlaybackMode(s string) (PlaybackMode, error) {
	switch s {
	case "robot", "":
		return PlayOnRobot, nil
	case "device":
		return PlayOnDevice, nil
	default:
		return 0, fmt.Errorf("unknown playback mode %q", s)
	}
}

// EventResult is reported once per posted event.
type EventResult int

const (
	ResultCompleted EventResult = iota
	ResultError
)

func (r EventResult) String() string {
	if r == ResultCompleted {
		return "completed"
	}
	return "error"
}

// PostRequest asks the audio engine to play one event.
type PostRequest struct {
	Owner  uuid.UUID
	Event  string
	Volume float32

	// Sink receives the rendered PCM. It is nil for device playback.
	Sink audiobuf.BufferSink
}

// AudioEngine renders audio events.
//
// For a request with a Sink the engine calls PrepareAudioBuffer, any number
// of UpdateBuffer and one CloseAudioBuffer on it, then invokes done exactly
// once. done may run on any goroutine. After StopEvents returns, no new
// stream is opened for owner.
type AudioEngine interface {
	PostEvent(req PostRequest, done func(EventResult)) (uint32, error)
	StopEvents(owner uuid.UUID)
}

// EventState is the lifecycle of one AudioEvent.
type EventState int32

const (
	EventPending EventState = iota
	EventPosted
	EventCompleted
	EventError
)

func (s EventState) String() string {
	switch s {
	case EventPending:
		return "pending"
	case EventPosted:
		return "posted"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event_state(%d)", int32(s))
	}
}

// Terminal reports whether the event will not change again.
func (s EventState) Terminal() bool {
	return s == EventCompleted || s == EventError
}

// AudioEvent is one audio keyframe kept for playback.
type AudioEvent struct {
	ID     int
	Event  string
	TimeMs int
	Volume float32

	PlayingID uint32

	state atomic.Int32

	// owned by the tick goroutine
	streamed bool
	noStream bool
}

// State returns the current state. Safe from any goroutine.
func (e *AudioEvent) State() EventState {
	return EventState(e.state.Load())
}

func (e *AudioEvent) setState(s EventState) {
	e.state.Store(int32(s))
}

// EventSnapshot is a copy of an AudioEvent for reporting.
type EventSnapshot struct {
	ID     int    `json:"id"`
	Event  string `json:"event"`
	TimeMs int    `json:"time_ms"`
	State  string `json:"state"`
}
