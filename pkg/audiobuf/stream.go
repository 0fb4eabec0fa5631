package audiobuf

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var streamIDs atomic.Uint64

// Stream is the ordered output of one audio engine posting.
// Frames are appended until SetComplete and popped in order.
type Stream struct {
	id  uint64
	now func() time.Time

	mu        sync.Mutex
	frames    []*Frame
	created   time.Time
	hasFrames bool
	complete  bool
	pushed    int
}

func newStream(now func() time.Time) *Stream {
	return &Stream{
		id:  streamIDs.Add(1),
		now: now,
	}
}

// ID is a process-unique identifier used in logs.
func (s *Stream) ID() uint64 {
	return s.id
}

// CreatedTimeMs returns the wall clock, in Unix milliseconds, at which the
// first frame arrived. ok is false until then.
func (s *Stream) CreatedTimeMs() (ms int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFrames {
		return 0, false
	}
	return s.created.UnixMilli(), true
}

// PushFrame appends a frame. A nil frame is silence.
// It panics if the stream is already complete.
func (s *Stream) PushFrame(f *Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete {
		panic(fmt.Errorf("stream %d: %w", s.id, ErrStreamComplete))
	}
	if !s.hasFrames {
		s.hasFrames = true
		s.created = s.now()
	}
	s.frames = append(s.frames, f)
	s.pushed++
}

// PopFrame removes and returns the oldest frame. ok is false when no frame
// is queued; the frame itself may be nil (silence).
func (s *Stream) PopFrame() (f *Frame, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, false
	}
	f = s.frames[0]
	s.frames[0] = nil
	s.frames = s.frames[1:]
	return f, true
}

// FrameCount returns the number of queued frames.
func (s *Stream) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// TotalFrames returns the number of frames ever pushed.
func (s *Stream) TotalFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushed
}

// IsComplete reports whether SetComplete has been called.
func (s *Stream) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// IsDrained reports whether the stream is complete and every frame has been popped.
func (s *Stream) IsDrained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete && len(s.frames) == 0
}

// SetComplete closes the stream. Closing twice panics.
func (s *Stream) SetComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.complete {
		panic(fmt.Errorf("stream %d: close: %w", s.id, ErrStreamComplete))
	}
	s.complete = true
}
