package interleaver

import (
	"github.com/teslashibe/go-animstream/pkg/protocol"
)

// PopFrameRobotMessages plays one tick of the current animation and appends
// its messages to out: robot audio first, then the start marker on the first
// frame, then device audio, face, head, lift, body, event and backpack light
// keyframes due this tick, then the end marker on the last frame. End
// markers owed by aborted animations follow the audio, ahead of the start
// marker.
//
// It panics while the current animation is buffering. With nothing playing
// it only flushes owed end markers.
func (i *Interleaver) PopFrameRobotMessages(out []*protocol.RobotMessage) []*protocol.RobotMessage {
	if i.state == BufferingAnimation {
		panic("interleaver: PopFrameRobotMessages while buffering")
	}

	if len(i.queue) == 0 {
		i.state = NoAnimations
		return i.PopPendingMessages(out)
	}

	cur := i.queue[0]
	anim := cur.anim
	first := !anim.HasStarted()

	anim.TickPlayhead(&i.frame)
	cur.source.SetActive(true)
	cur.source.SetFrame(i.frame.Audio)
	i.console.ProcessFrame()
	if audio := i.output.PopMessage(); audio != nil {
		out = append(out, audio)
	}
	out = i.PopPendingMessages(out)

	if first {
		out = i.appendMessage(out, "start", func() (*protocol.RobotMessage, error) {
			return protocol.NewStartOfAnimation(anim.Tag(), anim.Name())
		})
		cur.startSent = true
	}

	f := &i.frame
	if f.DeviceAudio != nil {
		out = i.appendMessage(out, "device_audio", func() (*protocol.RobotMessage, error) {
			return protocol.NewDeviceAudio(f.DeviceAudio.DeviceAudio)
		})
	}
	if f.Face != nil {
		out = i.appendMessage(out, "face", func() (*protocol.RobotMessage, error) {
			return protocol.NewFaceImage(f.Face.FaceImage)
		})
	}
	if f.Head != nil {
		out = i.appendMessage(out, "head", func() (*protocol.RobotMessage, error) {
			return protocol.NewHeadAngle(f.Head.HeadAngle)
		})
	}
	if f.Lift != nil {
		out = i.appendMessage(out, "lift", func() (*protocol.RobotMessage, error) {
			return protocol.NewLiftHeight(f.Lift.LiftHeight)
		})
	}
	if f.Body != nil {
		out = i.appendMessage(out, "body", func() (*protocol.RobotMessage, error) {
			return protocol.NewBodyMotion(f.Body.BodyMotion)
		})
	}
	if f.Event != nil {
		out = i.appendMessage(out, "event", func() (*protocol.RobotMessage, error) {
			return protocol.NewAnimEvent(f.Event.AnimEvent)
		})
	}
	if f.BackpackLights != nil {
		out = i.appendMessage(out, "backpack_lights", func() (*protocol.RobotMessage, error) {
			return protocol.NewBackpackLights(f.BackpackLights.BackpackLights)
		})
	}

	if anim.IsPlaybackComplete() {
		out = i.appendMessage(out, "end", func() (*protocol.RobotMessage, error) {
			return protocol.NewEndOfAnimation(anim.Tag())
		})
		cur.startSent = false
		i.finish()
	}
	i.refreshState()
	return out
}

// PopPendingMessages appends the end markers owed by aborted animations. It
// does not advance playback and may be called in any state.
func (i *Interleaver) PopPendingMessages(out []*protocol.RobotMessage) []*protocol.RobotMessage {
	for _, tag := range i.pendingEnd {
		out = i.appendMessage(out, "end", func() (*protocol.RobotMessage, error) {
			return protocol.NewEndOfAnimation(tag)
		})
	}
	i.pendingEnd = i.pendingEnd[:0]
	return out
}

func (i *Interleaver) appendMessage(out []*protocol.RobotMessage, track string, build func() (*protocol.RobotMessage, error)) []*protocol.RobotMessage {
	m, err := build()
	if err != nil {
		i.logger.Error("build keyframe message", "track", track, "error", err)
		return out
	}
	return append(out, m)
}
