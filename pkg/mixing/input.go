package mixing

import (
	"github.com/teslashibe/go-animstream/pkg/audiobuf"
)

// FramePlayer is the part of a streaming animation an input source needs.
type FramePlayer interface {
	CanPlayNextFrame() bool
}

// AnimationInputSource feeds the audio of one animation into the console.
// Sources are pooled by the interleaver; each owns the audio buffer that
// the animation it plays renders into.
type AnimationInputSource struct {
	id     int
	buffer *audiobuf.Buffer

	anim   FramePlayer
	active bool
	frame  *audiobuf.Frame
	ready  bool
	volume float32
	muted  bool
}

// NewAnimationInputSource creates a detached source owning buf.
func NewAnimationInputSource(id int, buf *audiobuf.Buffer) *AnimationInputSource {
	if buf == nil {
		buf = audiobuf.New()
	}
	return &AnimationInputSource{id: id, buffer: buf, volume: 1}
}

// ID identifies the source in logs.
func (s *AnimationInputSource) ID() int { return s.id }

// Buffer returns the owned audio buffer.
func (s *AnimationInputSource) Buffer() *audiobuf.Buffer { return s.buffer }

// Attach binds an animation. The source starts inactive.
func (s *AnimationInputSource) Attach(anim FramePlayer) {
	s.anim = anim
	s.active = false
	s.frame = nil
	s.ready = false
}

// Detach unbinds the animation and resets volume and mute.
func (s *AnimationInputSource) Detach() {
	s.anim = nil
	s.active = false
	s.frame = nil
	s.ready = false
	s.volume = 1
	s.muted = false
}

// IsAttached reports whether an animation is bound.
func (s *AnimationInputSource) IsAttached() bool { return s.anim != nil }

// SetActive marks the source as the one playing this tick.
func (s *AnimationInputSource) SetActive(active bool) { s.active = active }

// SetFrame stores this tick's frame, nil for silence.
func (s *AnimationInputSource) SetFrame(f *audiobuf.Frame) {
	s.frame = f
	s.ready = true
}

// SetVolume sets the mix gain.
func (s *AnimationInputSource) SetVolume(v float32) { s.volume = v }

// SetMuted mutes the source.
func (s *AnimationInputSource) SetMuted(m bool) { s.muted = m }

// State is Ready once a frame is set, Loading while the active animation
// cannot play its next frame, None otherwise.
func (s *AnimationInputSource) State() SourceState {
	if s.anim == nil || !s.active {
		return SourceNone
	}
	if s.ready {
		return SourceReady
	}
	if !s.anim.CanPlayNextFrame() {
		return SourceLoading
	}
	return SourceNone
}

// PopFrame hands over the stored frame.
func (s *AnimationInputSource) PopFrame() *audiobuf.Frame {
	f := s.frame
	s.frame = nil
	s.ready = false
	return f
}

// Volume returns the mix gain.
func (s *AnimationInputSource) Volume() float32 { return s.volume }

// Muted reports whether the source is muted.
func (s *AnimationInputSource) Muted() bool { return s.muted }
