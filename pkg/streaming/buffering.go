package streaming

import (
	"github.com/teslashibe/go-animstream/pkg/audiobuf"
)

// Update advances buffering. It starts buffering on the first call, posts
// robot events whose time has come, moves rendered and synthesized frames
// into the animation and evaluates state transitions.
func (s *StreamingAnimation) Update() {
	if s.State() == BufferCompleted {
		return
	}
	if !s.started && !s.startBuffering() {
		return
	}
	if s.State() == BufferCompleted {
		return
	}

	if s.mode == PlayOnRobot {
		s.postDueRobotEvents()
	}
	s.copyAudioBuffer()
	s.evaluateState()
}

// startBuffering moves None to Wait. An animation without events goes
// straight to Completed: immediately when playing on the device, and once
// the bound buffer is idle when playing on the robot.
func (s *StreamingAnimation) startBuffering() bool {
	if s.mode == PlayOnRobot && s.buffer != nil && s.buffer.IsWaitingForReset() {
		// the pooled buffer still drains an aborted posting
		return false
	}

	if len(s.events) == 0 {
		switch s.mode {
		case PlayOnDevice:
			s.started = true
			s.setState(BufferCompleted)
		case PlayOnRobot:
			if s.buffer == nil || s.buffer.IsIdle() {
				s.started = true
				s.setState(BufferCompleted)
			}
		}
		return s.started
	}

	s.started = true
	s.bufferingStart = s.now()
	s.setState(BufferWait)
	return true
}

// elapsedMs is the wall clock time since buffering started.
func (s *StreamingAnimation) elapsedMs() int {
	return int(s.now().Sub(s.bufferingStart).Milliseconds())
}

func (s *StreamingAnimation) postDueRobotEvents() {
	elapsed := s.elapsedMs()
	for _, ev := range s.events {
		if ev.TimeMs > elapsed {
			break
		}
		if ev.State() == EventPending {
			s.post(ev, s.AudioBuffer())
		}
	}
}

func (s *StreamingAnimation) pushFrame(f *audiobuf.Frame) {
	s.pending = append(s.pending, f)
	s.bufferedFrames++
	if f != nil {
		s.realFrames++
	}
}

// nextBufferedTimeMs is the animation time of the next frame to buffer.
func (s *StreamingAnimation) nextBufferedTimeMs() int {
	return s.bufferedFrames * SampleLengthMs
}

// nextStreamEvent returns the earliest posted event still waiting for its
// stream.
func (s *StreamingAnimation) nextStreamEvent() *AudioEvent {
	for _, ev := range s.events {
		if ev.streamed || ev.noStream {
			continue
		}
		if ev.State() == EventPending {
			return nil
		}
		return ev
	}
	return nil
}

// silenceLimit returns the earliest event that has neither streamed nor
// terminated. Silence never covers its time.
func (s *StreamingAnimation) silenceLimit() (int, bool) {
	for _, ev := range s.events {
		if ev.streamed || ev.State().Terminal() {
			continue
		}
		return ev.TimeMs, true
	}
	return 0, false
}

// copyAudioBuffer moves frames from the audio buffer into the animation.
// With no stream adopted it either adopts the front stream, once the
// timeline reaches the stream's relevant time, or synthesizes silence.
func (s *StreamingAnimation) copyAudioBuffer() {
	if s.mode == PlayOnDevice {
		s.addSilenceFrames(-1)
		return
	}

	for {
		if s.current != nil {
			if !s.drainCurrent() {
				return
			}
			continue
		}

		front := s.AudioBuffer().Front()
		if front == nil {
			s.addRobotSilence()
			return
		}

		created, ok := front.CreatedTimeMs()
		if !ok {
			if front.IsDrained() {
				// the posting rendered nothing
				if ev := s.nextStreamEvent(); ev != nil {
					ev.streamed = true
				}
				s.AudioBuffer().PopStream()
				continue
			}
			s.addRobotSilence()
			return
		}

		ev := s.nextStreamEvent()
		if !s.offsetSet && ev != nil {
			s.offsetMs = created - int64(ev.TimeMs)
			s.offsetSet = true
			s.logger.Debug("audio offset", "offset_ms", s.offsetMs, "event", ev.Event)
		}

		relevant := s.nextBufferedTimeMs()
		if s.offsetSet {
			relevant = int(created - s.offsetMs)
		}
		if s.nextBufferedTimeMs()+SampleLengthMs > relevant {
			s.current = front
			if ev != nil {
				ev.streamed = true
			}
			s.logger.Debug("adopted stream", "stream", front.ID(), "frame", s.bufferedFrames, "relevant_ms", relevant)
			continue
		}
		// silence up to the stream's relevant time
		for s.nextBufferedTimeMs()+SampleLengthMs <= relevant {
			s.pushFrame(nil)
		}
	}
}

// drainCurrent copies the adopted stream's frames. It reports whether the
// stream finished and was dropped.
func (s *StreamingAnimation) drainCurrent() bool {
	for {
		f, ok := s.current.PopFrame()
		if !ok {
			break
		}
		s.pushFrame(f)
	}
	if !s.current.IsDrained() {
		return false
	}
	s.AudioBuffer().PopStream()
	s.current = nil
	return true
}

// addRobotSilence synthesizes silence while no stream is adopted, stopping
// short of the next event still to stream.
func (s *StreamingAnimation) addRobotSilence() {
	if limit, ok := s.silenceLimit(); ok {
		s.addSilenceFrames(limit)
		return
	}
	s.addSilenceFrames(-1)
}

// addSilenceFrames pushes silence while the next frame starts at or before
// the last keyframe. A non-negative limit also stops before the frame that
// contains limit.
func (s *StreamingAnimation) addSilenceFrames(limitMs int) {
	for s.nextBufferedTimeMs() <= s.lastKeyframeMs {
		if limitMs >= 0 && s.nextBufferedTimeMs()+SampleLengthMs > limitMs {
			return
		}
		s.pushFrame(nil)
	}
}

// evaluateState applies Wait to Ready and Ready to Completed.
func (s *StreamingAnimation) evaluateState() {
	if s.State() == BufferWait && len(s.pending) > 0 {
		s.setState(BufferReady)
	}
	if s.State() != BufferReady {
		return
	}
	if !s.allEventsTerminal() {
		return
	}
	if s.mode == PlayOnRobot {
		if s.current != nil || s.AudioBuffer().HasStream() || s.AudioBuffer().HasPendingStream() {
			return
		}
	}
	if s.nextBufferedTimeMs() <= s.lastKeyframeMs {
		return
	}
	s.setState(BufferCompleted)
}
