package audiobuf

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BufferSink is the side of a Buffer the audio engine drives.
// Calls for one posting arrive in order: PrepareAudioBuffer, any number of
// UpdateBuffer, then exactly one CloseAudioBuffer.
type BufferSink interface {
	PrepareAudioBuffer()
	UpdateBuffer(samples []float32)
	CloseAudioBuffer()
}

// Buffer is the stream FIFO for one playback context.
// At most one stream is open (not complete) at a time and it is always the back.
type Buffer struct {
	frameSize int
	now       func() time.Time
	logger    *slog.Logger

	mu              sync.Mutex
	streams         []*Stream
	open            *Stream
	partial         []float32
	waitingForReset bool
	dropped         int

	// closed is set by a close that completed a stream and cleared by the
	// next prepare, reset or clear.
	closed bool
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock sets the wall clock used to stamp stream creation.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// WithFrameSize overrides SamplesPerFrame.
func WithFrameSize(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.frameSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates an empty buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{
		frameSize: SamplesPerFrame,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "audiobuf")
	return b
}

// FrameSize returns the number of samples per frame.
func (b *Buffer) FrameSize() int {
	return b.frameSize
}

// PrepareAudioBuffer opens a new stream at the back of the queue.
// It is ignored while the buffer waits for the close of an aborted posting.
// Preparing while another stream is open panics.
func (b *Buffer) PrepareAudioBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waitingForReset {
		b.logger.Debug("prepare ignored, waiting for reset")
		return
	}
	if b.open != nil {
		panic(fmt.Errorf("prepare audio buffer: stream %d: %w", b.open.ID(), ErrStreamOpen))
	}
	s := newStream(b.now)
	b.open = s
	b.streams = append(b.streams, s)
	b.partial = b.partial[:0]
	b.closed = false
}

// UpdateBuffer appends samples to the open stream, cut into whole frames.
// A trailing partial frame is carried into the next call.
// nil samples append one frame of silence.
func (b *Buffer) UpdateBuffer(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waitingForReset || b.open == nil {
		b.dropped++
		return
	}

	if samples == nil {
		if len(b.partial) > 0 {
			b.flushPartialLocked()
		}
		b.open.PushFrame(nil)
		return
	}

	for len(samples) > 0 {
		need := b.frameSize - len(b.partial)
		if len(b.partial) == 0 && len(samples) >= b.frameSize {
			f := NewFrame(b.frameSize)
			copy(f.Samples, samples[:b.frameSize])
			b.open.PushFrame(f)
			samples = samples[b.frameSize:]
			continue
		}
		if need > len(samples) {
			need = len(samples)
		}
		b.partial = append(b.partial, samples[:need]...)
		samples = samples[need:]
		if len(b.partial) == b.frameSize {
			b.flushPartialLocked()
		}
	}
}

// UpdateSilence appends n silence frames to the open stream.
func (b *Buffer) UpdateSilence(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waitingForReset || b.open == nil {
		b.dropped += n
		return
	}
	if len(b.partial) > 0 {
		b.flushPartialLocked()
	}
	for i := 0; i < n; i++ {
		b.open.PushFrame(nil)
	}
}

// CloseAudioBuffer flushes any partial frame, zero padded, completes the open
// stream and clears the waiting-for-reset flag. Closing the same stream twice
// panics; a close left over from a posting dropped by a reset is ignored.
func (b *Buffer) CloseAudioBuffer() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waitingForReset {
		b.waitingForReset = false
		b.partial = b.partial[:0]
		b.logger.Debug("final close received, reset complete", "dropped_updates", b.dropped)
		b.dropped = 0
		return
	}
	if b.open == nil {
		if b.closed {
			panic(fmt.Errorf("close audio buffer: %w", ErrStreamClosed))
		}
		b.logger.Warn("close without open stream")
		return
	}
	if len(b.partial) > 0 {
		b.flushPartialLocked()
	}
	b.open.SetComplete()
	b.open = nil
	b.closed = true
}

func (b *Buffer) flushPartialLocked() {
	f := NewFrame(b.frameSize)
	copy(f.Samples, b.partial)
	b.open.PushFrame(f)
	b.partial = b.partial[:0]
}

// HasStream reports whether any stream is queued.
func (b *Buffer) HasStream() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams) > 0
}

// Front returns the oldest queued stream or nil.
func (b *Buffer) Front() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[0]
}

// StreamCount returns the number of queued streams.
func (b *Buffer) StreamCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// PopStream drops the front stream. It must be complete and drained.
func (b *Buffer) PopStream() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return
	}
	front := b.streams[0]
	if !front.IsDrained() {
		panic(fmt.Errorf("pop stream %d: %w", front.ID(), ErrStreamNotDrained))
	}
	b.streams[0] = nil
	b.streams = b.streams[1:]
}

// HasPendingStream reports whether a stream is still open for writing.
func (b *Buffer) HasPendingStream() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open != nil
}

// IsWaitingForReset reports whether the buffer is discarding the remainder
// of an aborted posting.
func (b *Buffer) IsWaitingForReset() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waitingForReset
}

// IsIdle reports whether the buffer has no open stream and is not waiting
// for a reset, so it can be handed to a new animation.
func (b *Buffer) IsIdle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open == nil && !b.waitingForReset
}

// ResetAudioBuffer drops every queued stream. When allEventsCompleted is
// false and a stream is still open, its posting is in flight: the buffer
// discards everything up to and including that posting's CloseAudioBuffer.
// Callers stop their postings first so no new stream can open afterwards.
func (b *Buffer) ResetAudioBuffer(allEventsCompleted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.streams {
		b.streams[i] = nil
	}
	b.streams = b.streams[:0]
	b.partial = b.partial[:0]
	inFlight := b.open != nil
	b.open = nil
	b.closed = false
	if !allEventsCompleted && inFlight {
		b.waitingForReset = true
	}
	b.logger.Debug("audio buffer reset",
		"all_events_completed", allEventsCompleted,
		"in_flight", inFlight,
		"waiting", b.waitingForReset)
}

// Clear drops all state including the waiting-for-reset flag.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams = nil
	b.open = nil
	b.partial = b.partial[:0]
	b.waitingForReset = false
	b.dropped = 0
	b.closed = false
}
