package animation

// Keyframe is anything scheduled on a track.
type Keyframe interface {
	TriggerTime() int
}

// Cursor walks one track during playback.
type Cursor[K Keyframe] struct {
	frames []K
	next   int
}

// NewCursor returns a cursor at the start of frames.
func NewCursor[K Keyframe](frames []K) *Cursor[K] {
	return &Cursor[K]{frames: frames}
}

// Due returns the next keyframe if it triggers before untilMs and advances.
// At most one keyframe is returned per call.
func (c *Cursor[K]) Due(untilMs int) (K, bool) {
	var zero K
	if c.next >= len(c.frames) {
		return zero, false
	}
	k := c.frames[c.next]
	if k.TriggerTime() >= untilMs {
		return zero, false
	}
	c.next++
	return k, true
}

// Done reports whether every keyframe has been returned.
func (c *Cursor[K]) Done() bool {
	return c.next >= len(c.frames)
}

// Remaining returns the number of keyframes not yet returned.
func (c *Cursor[K]) Remaining() int {
	return len(c.frames) - c.next
}
