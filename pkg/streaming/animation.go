package streaming

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/audiobuf"
)

// SampleLengthMs is the duration of one animation tick and one audio frame.
const SampleLengthMs = audiobuf.SampleLengthMs

// Options configures a StreamingAnimation.
type Options struct {
	Mode   PlaybackMode
	Engine AudioEngine

	// Tag identifies the animation in start and end markers.
	Tag uint8

	// Clock is the wall clock used to schedule robot events. Default time.Now.
	Clock func() time.Time

	// Rand draws event probabilities. Default is the global generator.
	Rand *rand.Rand

	Logger *slog.Logger

	// OnStateChange, if set, is called on the tick goroutine for every
	// buffer state transition.
	OnStateChange func(from, to BufferState)
}

// StreamingAnimation plays one animation: it owns the track cursors, the
// audio event list and the buffering state machine. All methods except
// the engine callbacks run on the tick goroutine.
type StreamingAnimation struct {
	id     uuid.UUID
	anim   *animation.Animation
	mode   PlaybackMode
	engine AudioEngine
	tag    uint8
	now    func() time.Time
	logger *slog.Logger
	bufLog *slog.Logger
	onStep func(from, to BufferState)

	events         []*AudioEvent
	singleUse      bool
	lastKeyframeMs int

	// alive is shared with every engine callback; a callback arriving
	// after Close finds it false and does nothing.
	alive *atomic.Bool

	state atomic.Int32

	buffer         *audiobuf.Buffer
	started        bool
	bufferingStart time.Time
	current        *audiobuf.Stream
	offsetMs       int64
	offsetSet      bool
	pending        []*audiobuf.Frame
	bufferedFrames int
	realFrames     int
	aborted        bool

	playheadFrame  int
	playheadTimeMs int
	deviceAudio    *animation.Cursor[animation.DeviceAudioKeyframe]
	face           *animation.Cursor[animation.FaceKeyframe]
	head           *animation.Cursor[animation.HeadKeyframe]
	lift           *animation.Cursor[animation.LiftKeyframe]
	body           *animation.Cursor[animation.BodyKeyframe]
	event          *animation.Cursor[animation.EventKeyframe]
	backpack       *animation.Cursor[animation.BackpackKeyframe]
}

// New prepares anim for playback and draws its audio event list.
func New(anim *animation.Animation, opts Options) *StreamingAnimation {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &StreamingAnimation{
		id:             uuid.New(),
		anim:           anim,
		mode:           opts.Mode,
		engine:         opts.Engine,
		tag:            opts.Tag,
		now:            opts.Clock,
		onStep:         opts.OnStateChange,
		lastKeyframeMs: anim.LastKeyframeTimeMs(),
		alive:          &atomic.Bool{},
		deviceAudio:    animation.NewCursor(anim.DeviceAudio),
		face:           animation.NewCursor(anim.Face),
		head:           animation.NewCursor(anim.Head),
		lift:           animation.NewCursor(anim.Lift),
		body:           animation.NewCursor(anim.Body),
		event:          animation.NewCursor(anim.Events),
		backpack:       animation.NewCursor(anim.BackpackLights),
	}
	s.alive.Store(true)
	s.logger = opts.Logger.With("component", "streaming", "anim", anim.Name, "mode", opts.Mode.String())
	s.bufLog = opts.Logger
	s.GenerateAudioEventList(opts.Rand)
	return s
}

// GenerateAudioEventList draws which audio keyframes play this time and
// sorts them by time. Keyframes with probability ≈ 1 skip the draw.
func (s *StreamingAnimation) GenerateAudioEventList(r *rand.Rand) {
	draw := rand.Float32
	if r != nil {
		draw = r.Float32
	}

	s.events = s.events[:0]
	s.singleUse = false
	for _, k := range s.anim.Audio {
		if 1-k.Probability > 1e-6 && draw() >= k.Probability {
			continue
		}
		ev := &AudioEvent{
			Event:  k.EventName,
			TimeMs: k.TriggerTimeMs,
			Volume: k.Volume,
		}
		s.events = append(s.events, ev)
		if k.HasAlternates {
			s.singleUse = true
		}
	}
	sort.SliceStable(s.events, func(i, j int) bool { return s.events[i].TimeMs < s.events[j].TimeMs })
	for i, ev := range s.events {
		ev.ID = i
	}
}

// SetAudioBuffer binds the playback context the audio engine renders into.
// It must be called before the first Update.
func (s *StreamingAnimation) SetAudioBuffer(buf *audiobuf.Buffer) {
	if s.started {
		panic(fmt.Sprintf("streaming: %s: audio buffer changed after buffering started", s.anim.Name))
	}
	if buf != nil {
		s.buffer = buf
	}
}

// AudioBuffer returns the bound buffer. An animation that was never bound
// to a pooled buffer gets a private one on first use.
func (s *StreamingAnimation) AudioBuffer() *audiobuf.Buffer {
	if s.buffer == nil {
		s.buffer = audiobuf.New(audiobuf.WithClock(s.now), audiobuf.WithLogger(s.bufLog))
	}
	return s.buffer
}

// ID returns the instance id, used as the audio engine owner.
func (s *StreamingAnimation) ID() uuid.UUID { return s.id }

// Name returns the animation name.
func (s *StreamingAnimation) Name() string { return s.anim.Name }

// Tag returns the marker tag.
func (s *StreamingAnimation) Tag() uint8 { return s.tag }

// Mode returns the playback mode.
func (s *StreamingAnimation) Mode() PlaybackMode { return s.mode }

// Animation returns the underlying definition.
func (s *StreamingAnimation) Animation() *animation.Animation { return s.anim }

// IsSingleUse reports whether a kept event has alternates. It is only a flag.
func (s *StreamingAnimation) IsSingleUse() bool { return s.singleUse }

// State returns the buffer state.
func (s *StreamingAnimation) State() BufferState {
	return BufferState(s.state.Load())
}

// Events returns a snapshot of the audio event list.
func (s *StreamingAnimation) Events() []EventSnapshot {
	out := make([]EventSnapshot, len(s.events))
	for i, ev := range s.events {
		out[i] = EventSnapshot{ID: ev.ID, Event: ev.Event, TimeMs: ev.TimeMs, State: ev.State().String()}
	}
	return out
}

// EventCount returns the number of kept audio events.
func (s *StreamingAnimation) EventCount() int { return len(s.events) }

func (s *StreamingAnimation) setState(next BufferState) {
	cur := s.State()
	if next == cur {
		return
	}
	if next < cur {
		panic(fmt.Sprintf("streaming: %s: buffer state cannot move from %s to %s", s.anim.Name, cur, next))
	}
	s.state.Store(int32(next))
	s.logger.Debug("buffer state", "from", cur.String(), "to", next.String(),
		"buffered", s.bufferedFrames, "playhead", s.playheadFrame)
	if s.onStep != nil {
		s.onStep(cur, next)
	}
}

func (s *StreamingAnimation) allEventsTerminal() bool {
	for _, ev := range s.events {
		if !ev.State().Terminal() {
			return false
		}
	}
	return true
}

func (s *StreamingAnimation) hasOutstandingPosts() bool {
	for _, ev := range s.events {
		if ev.State() == EventPosted {
			return true
		}
	}
	return false
}

// post hands ev to the engine. The callback holds only the liveness token
// and the event, never the animation.
func (s *StreamingAnimation) post(ev *AudioEvent, sink audiobuf.BufferSink) {
	if s.engine == nil {
		ev.noStream = true
		ev.setState(EventError)
		s.logger.Warn("no audio engine, dropping event", "event", ev.Event)
		return
	}

	ev.setState(EventPosted)
	alive := s.alive
	logger := s.logger
	done := func(r EventResult) {
		if !alive.Load() {
			return
		}
		if r == ResultCompleted {
			ev.setState(EventCompleted)
		} else {
			ev.setState(EventError)
			logger.Warn("audio event failed", "event", ev.Event, "time_ms", ev.TimeMs)
		}
	}

	id, err := s.engine.PostEvent(PostRequest{
		Owner:  s.id,
		Event:  ev.Event,
		Volume: ev.Volume,
		Sink:   sink,
	}, done)
	if err != nil {
		ev.noStream = true
		ev.setState(EventError)
		s.logger.Warn("post audio event", "event", ev.Event, "error", err)
		return
	}
	ev.PlayingID = id
	s.logger.Debug("posted audio event", "event", ev.Event, "time_ms", ev.TimeMs, "playing_id", id)
}

// AbortAnimation stops buffering and outstanding posts and forces the state
// to BufferCompleted. Calling it again does nothing.
func (s *StreamingAnimation) AbortAnimation() {
	if s.aborted {
		return
	}
	s.aborted = true

	state := s.State()
	if state == BufferWait || state == BufferReady {
		allDone := s.allEventsTerminal()
		if s.engine != nil && s.hasOutstandingPosts() {
			s.engine.StopEvents(s.id)
		}
		if s.mode == PlayOnRobot && s.buffer != nil {
			s.buffer.ResetAudioBuffer(allDone)
		}
		s.current = nil
	}
	s.pending = nil
	s.setState(BufferCompleted)
	s.logger.Info("animation aborted", "playhead", s.playheadFrame)
}

// IsAborted reports whether AbortAnimation was called.
func (s *StreamingAnimation) IsAborted() bool { return s.aborted }

// Close releases the animation. Outstanding posts are stopped and late
// engine callbacks become no-ops.
func (s *StreamingAnimation) Close() {
	if !s.aborted && s.hasOutstandingPosts() {
		if s.engine != nil {
			s.engine.StopEvents(s.id)
		}
		if s.mode == PlayOnRobot && s.buffer != nil {
			s.buffer.ResetAudioBuffer(false)
		}
	}
	s.alive.Store(false)
	s.pending = nil
	s.current = nil
}
