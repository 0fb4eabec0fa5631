// Package interleaver plays queued streaming animations one tick at a time
// and turns each tick into the ordered set of wire messages for the robot.
package interleaver

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/teslashibe/go-animstream/pkg/audiobuf"
	"github.com/teslashibe/go-animstream/pkg/mixing"
	"github.com/teslashibe/go-animstream/pkg/protocol"
	"github.com/teslashibe/go-animstream/pkg/streaming"
)

const (
	// SourcePoolSize is the number of reusable audio input sources.
	SourcePoolSize = 2

	// MaxQueuedAnimations is the current animation plus the next one.
	MaxQueuedAnimations = 2
)

// State is the aggregate playback state.
type State int

const (
	NoAnimations State = iota
	BufferingAnimation
	PlayingAnimations

	// TransitioningBetweenAnimations is reserved for cross-fading from the
	// current animation into the next. Nothing enters it yet.
	TransitioningBetweenAnimations
)

func (s State) String() string {
	switch s {
	case NoAnimations:
		return "no_animations"
	case BufferingAnimation:
		return "buffering"
	case PlayingAnimations:
		return "playing"
	case TransitioningBetweenAnimations:
		return "transitioning"
	default:
		return "unknown"
	}
}

// Options configures an Interleaver.
type Options struct {
	// FrameSize is the audio block length. Default audiobuf.SamplesPerFrame.
	FrameSize int

	// SampleRate of the robot audio. Default audiobuf.SampleRate.
	SampleRate int

	// SSRC identifies the robot audio stream.
	SSRC uint32

	// NewBuffer builds the audio buffer owned by each pooled source.
	NewBuffer func() *audiobuf.Buffer

	Logger *slog.Logger
}

type playback struct {
	anim      *streaming.StreamingAnimation
	source    *mixing.AnimationInputSource
	fadeMs    int
	abort     bool
	startSent bool
}

// Interleaver owns the playback queue, the source pool and the mixing
// console. It is driven from the tick goroutine only.
type Interleaver struct {
	console *mixing.Console
	output  *mixing.RobotAudioOutput
	pool    []*mixing.AnimationInputSource
	queue   []*playback
	state   State

	// pendingEnd holds tags of aborted animations whose end marker has
	// not been emitted yet.
	pendingEnd []uint8

	frame      streaming.TrackFrame
	onComplete func(anim *streaming.StreamingAnimation)
	logger     *slog.Logger
}

// New creates an interleaver with its console, source pool and robot output.
func New(opts Options) *Interleaver {
	if opts.FrameSize <= 0 {
		opts.FrameSize = audiobuf.SamplesPerFrame
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audiobuf.SampleRate
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewBuffer == nil {
		opts.NewBuffer = func() *audiobuf.Buffer {
			return audiobuf.New(audiobuf.WithFrameSize(opts.FrameSize), audiobuf.WithLogger(opts.Logger))
		}
	}
	if opts.SSRC == 0 {
		opts.SSRC = uuid.New().ID()
	}

	i := &Interleaver{
		console: mixing.NewConsole(opts.FrameSize),
		logger:  opts.Logger.With("component", "interleaver"),
	}
	packetizer := protocol.NewAudioPacketizer(opts.SSRC, opts.SampleRate, opts.FrameSize)
	i.output = mixing.NewRobotAudioOutput(packetizer, opts.Logger)
	i.console.AddOutput(i.output)

	for n := range SourcePoolSize {
		src := mixing.NewAnimationInputSource(n, opts.NewBuffer())
		i.console.AddInput(src)
		i.pool = append(i.pool, src)
	}
	return i
}

// OnAnimationComplete registers fn to be called with every animation that
// leaves the queue, finished or aborted. The animation is already closed.
func (i *Interleaver) OnAnimationComplete(fn func(anim *streaming.StreamingAnimation)) {
	i.onComplete = fn
}

// SetNextAnimation queues anim. It returns false when the queue is full or
// no input source is free. With abort set, the animation currently playing
// is cut short on the next Update. anim must not have started playing.
func (i *Interleaver) SetNextAnimation(anim *streaming.StreamingAnimation, fadeMs int, abort bool) bool {
	if anim.HasStarted() {
		panic(fmt.Sprintf("interleaver: SetNextAnimation(%s) after it started playing", anim.Name()))
	}
	if len(i.queue) >= MaxQueuedAnimations {
		i.logger.Debug("queue full", "anim", anim.Name(), "error", ErrQueueFull)
		return false
	}
	if len(i.pool) == 0 {
		i.logger.Warn("no free audio source", "anim", anim.Name(), "error", ErrNoSource)
		return false
	}

	src := i.pool[len(i.pool)-1]
	i.pool = i.pool[:len(i.pool)-1]
	src.Attach(anim)
	anim.SetAudioBuffer(src.Buffer())

	i.queue = append(i.queue, &playback{anim: anim, source: src, fadeMs: fadeMs, abort: abort})
	i.logger.Info("animation queued",
		"anim", anim.Name(),
		"id", anim.ID(),
		"source", src.ID(),
		"fade_ms", fadeMs,
		"abort", abort,
		"queue", len(i.queue),
	)
	return true
}

// SetVolume sets the mix gain of a queued animation. It returns false if
// the animation is not queued.
func (i *Interleaver) SetVolume(anim *streaming.StreamingAnimation, volume float32) bool {
	for _, p := range i.queue {
		if p.anim == anim {
			p.source.SetVolume(volume)
			return true
		}
	}
	return false
}

// Update advances buffering of the current animation, and of the next one
// when queued, then recomputes the aggregate state.
func (i *Interleaver) Update() {
	if len(i.queue) > 1 && i.queue[1].abort {
		i.queue[1].abort = false
		cur := i.queue[0]
		i.logger.Info("aborting for next animation", "anim", cur.anim.Name(), "next", i.queue[1].anim.Name())
		cur.anim.AbortAnimation()
	}
	i.reapFinished()

	if len(i.queue) == 0 {
		i.state = NoAnimations
		return
	}

	cur := i.queue[0]
	cur.anim.Update()
	if len(i.queue) > 1 {
		i.queue[1].anim.Update()
	}
	i.reapFinished()
	i.refreshState()
}

// refreshState derives the state from whether the current animation can
// play its next frame.
func (i *Interleaver) refreshState() {
	if len(i.queue) == 0 {
		i.state = NoAnimations
		return
	}
	i.queue[0].source.SetActive(true)

	// TODO: enter TransitioningBetweenAnimations when the next animation
	// requests a fade and is ready, and cross-fade the two sources.
	if i.console.Update() == mixing.ConsoleLoading {
		i.state = BufferingAnimation
	} else {
		i.state = PlayingAnimations
	}
}

// reapFinished drops animations at the front of the queue that finished
// outside PopFrameRobotMessages: aborted ones, and ones whose buffering only
// completed after their last frame played. Their end marker is owed.
func (i *Interleaver) reapFinished() {
	for len(i.queue) > 0 && i.queue[0].anim.IsPlaybackComplete() {
		p := i.queue[0]
		if p.startSent {
			i.pendingEnd = append(i.pendingEnd, p.anim.Tag())
		}
		i.finish()
	}
}

// finish pops the front animation, returns its source to the pool and
// reports completion.
func (i *Interleaver) finish() {
	p := i.queue[0]
	i.queue[0] = nil
	i.queue = i.queue[1:]

	p.anim.Close()
	p.source.Detach()
	i.pool = append(i.pool, p.source)

	i.logger.Info("animation finished",
		"anim", p.anim.Name(),
		"id", p.anim.ID(),
		"aborted", p.anim.IsAborted(),
		"frames", p.anim.PlayheadFrame(),
	)
	if i.onComplete != nil {
		i.onComplete(p.anim)
	}
}

// State returns the state computed by the last Update.
func (i *Interleaver) State() State { return i.state }

// CurrentAnimation returns the animation at the front of the queue, or nil.
func (i *Interleaver) CurrentAnimation() *streaming.StreamingAnimation {
	if len(i.queue) == 0 {
		return nil
	}
	return i.queue[0].anim
}

// Queue returns progress snapshots of the queued animations.
func (i *Interleaver) Queue() []streaming.Snapshot {
	out := make([]streaming.Snapshot, len(i.queue))
	for n, p := range i.queue {
		out[n] = p.anim.Snapshot()
	}
	return out
}

// QueueLength returns the number of queued animations.
func (i *Interleaver) QueueLength() int { return len(i.queue) }

// AvailableSources returns the number of free input sources.
func (i *Interleaver) AvailableSources() int { return len(i.pool) }

// HasPendingMessages reports whether end markers of aborted animations are
// waiting to be emitted.
func (i *Interleaver) HasPendingMessages() bool { return len(i.pendingEnd) > 0 }

// AudioClock returns the number of mixed ticks.
func (i *Interleaver) AudioClock() uint64 { return i.console.AudioClock() }

// OutputStats returns the robot audio output counters.
func (i *Interleaver) OutputStats() mixing.OutputStats { return i.output.Stats() }

// AbortAll aborts every queued animation. End markers for those that
// started are emitted by the next PopFrameRobotMessages.
func (i *Interleaver) AbortAll() {
	for _, p := range i.queue {
		p.anim.AbortAnimation()
	}
	i.reapFinished()
	i.refreshState()
}
