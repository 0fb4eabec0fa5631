package interleaver

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-animstream/internal/log"
	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/audiobuf"
	"github.com/teslashibe/go-animstream/pkg/protocol"
	"github.com/teslashibe/go-animstream/pkg/streaming"
)

// renderEngine renders frames synchronously for every robot post.
type renderEngine struct {
	mu     sync.Mutex
	frames int
	posts  int
}

func (e *renderEngine) PostEvent(req streaming.PostRequest, done func(streaming.EventResult)) (uint32, error) {
	e.mu.Lock()
	e.posts++
	id := uint32(e.posts)
	frames := e.frames
	e.mu.Unlock()

	if frames == 0 {
		return id, nil
	}
	if req.Sink != nil {
		req.Sink.PrepareAudioBuffer()
		for range frames {
			samples := make([]float32, audiobuf.SamplesPerFrame)
			for j := range samples {
				samples[j] = 0.5
			}
			req.Sink.UpdateBuffer(samples)
		}
		req.Sink.CloseAudioBuffer()
	}
	done(streaming.ResultCompleted)
	return id, nil
}

func (e *renderEngine) StopEvents(uuid.UUID) {}

func newInterleaver(t *testing.T) (*Interleaver, *[]string) {
	t.Helper()
	il := New(Options{SSRC: 7, Logger: log.Discard()})
	var done []string
	il.OnAnimationComplete(func(a *streaming.StreamingAnimation) { done = append(done, a.Name()) })
	return il, &done
}

func newAnim(anim *animation.Animation, tag uint8, engine streaming.AudioEngine) *streaming.StreamingAnimation {
	return streaming.New(anim, streaming.Options{
		Mode:   streaming.PlayOnRobot,
		Engine: engine,
		Tag:    tag,
		Logger: log.Discard(),
	})
}

// motionOnly has no audio and a last keyframe at 99ms: four frames.
func motionOnly(name string) *animation.Animation {
	return &animation.Animation{
		Name: name,
		Face: []animation.FaceKeyframe{{TriggerTimeMs: 0, FaceImage: protocol.FaceImage{Image: "smile"}}},
		Head: []animation.HeadKeyframe{{TriggerTimeMs: 0, HeadAngle: protocol.HeadAngle{AngleDeg: 10}}},
		Lift: []animation.LiftKeyframe{{TriggerTimeMs: 66, LiftHeight: protocol.LiftHeight{HeightMm: 40}}},
		BackpackLights: []animation.BackpackKeyframe{
			{TriggerTimeMs: 99, BackpackLights: protocol.BackpackLights{Colors: [5]uint32{0xff0000ff}}},
		},
	}
}

func longMotion(name string) *animation.Animation {
	return &animation.Animation{
		Name: name,
		Head: []animation.HeadKeyframe{{TriggerTimeMs: 0}, {TriggerTimeMs: 990}},
	}
}

func tags(msgs []*protocol.RobotMessage) []protocol.Tag {
	out := make([]protocol.Tag, len(msgs))
	for i, m := range msgs {
		out[i] = m.Tag
	}
	return out
}

func TestPlaysMotionOnlyAnimation(t *testing.T) {
	il, done := newInterleaver(t)
	anim := newAnim(motionOnly("wave"), 3, nil)
	require.True(t, il.SetNextAnimation(anim, 0, false))
	assert.Equal(t, 1, il.AvailableSources())

	il.Update()
	require.Equal(t, PlayingAnimations, il.State())

	want := [][]protocol.Tag{
		{protocol.TagAudioSilence, protocol.TagStartOfAnimation, protocol.TagFaceImage, protocol.TagHeadAngle},
		{protocol.TagAudioSilence},
		{protocol.TagAudioSilence, protocol.TagLiftHeight},
		{protocol.TagAudioSilence, protocol.TagBackpackLights, protocol.TagEndOfAnimation},
	}
	for n, tick := range want {
		require.Equal(t, PlayingAnimations, il.State(), "tick %d", n)
		msgs := il.PopFrameRobotMessages(nil)
		assert.Equal(t, tick, tags(msgs), "tick %d", n)
		il.Update()
	}

	assert.Equal(t, NoAnimations, il.State())
	assert.Equal(t, []string{"wave"}, *done)
	assert.Equal(t, SourcePoolSize, il.AvailableSources())
	assert.Nil(t, il.CurrentAnimation())
}

func TestStartMarkerCarriesTag(t *testing.T) {
	il, _ := newInterleaver(t)
	require.True(t, il.SetNextAnimation(newAnim(motionOnly("wave"), 9, nil), 0, false))
	il.Update()

	msgs := il.PopFrameRobotMessages(nil)
	require.GreaterOrEqual(t, len(msgs), 2)
	marker, err := protocol.Decode[protocol.AnimationMarker](msgs[1], protocol.TagStartOfAnimation)
	require.NoError(t, err)
	assert.Equal(t, protocol.AnimationMarker{AnimTag: 9, Name: "wave"}, marker)
}

func TestAudioMessageComesFirst(t *testing.T) {
	il, _ := newInterleaver(t)
	anim := &animation.Animation{
		Name:  "talk",
		Audio: []animation.AudioKeyframe{{TriggerTimeMs: 0, EventName: "vo_hi", Volume: 1, Probability: 1}},
		Head:  []animation.HeadKeyframe{{TriggerTimeMs: 0}, {TriggerTimeMs: 132}},
	}
	require.True(t, il.SetNextAnimation(newAnim(anim, 1, &renderEngine{frames: 3}), 0, false))

	il.Update()
	require.Equal(t, PlayingAnimations, il.State())

	msgs := il.PopFrameRobotMessages(nil)
	require.Len(t, msgs, 3)
	assert.Equal(t, protocol.TagAudioSample, msgs[0].Tag)
	assert.Equal(t, protocol.TagStartOfAnimation, msgs[1].Tag)
	assert.Equal(t, protocol.TagHeadAngle, msgs[2].Tag)

	pkt, err := protocol.DecodeAudioSample(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(7), pkt.SSRC)
	assert.Len(t, pkt.Payload, audiobuf.SamplesPerFrame)
}

func TestPopWhileBufferingPanics(t *testing.T) {
	il, _ := newInterleaver(t)
	anim := &animation.Animation{
		Name:  "slow",
		Audio: []animation.AudioKeyframe{{TriggerTimeMs: 0, EventName: "vo_slow", Volume: 1, Probability: 1}},
	}
	require.True(t, il.SetNextAnimation(newAnim(anim, 1, &renderEngine{}), 0, false))

	il.Update()
	require.Equal(t, BufferingAnimation, il.State())
	assert.Panics(t, func() { il.PopFrameRobotMessages(nil) })
}

func TestQueueAndPoolLimits(t *testing.T) {
	il, _ := newInterleaver(t)
	assert.True(t, il.SetNextAnimation(newAnim(longMotion("a"), 1, nil), 0, false))
	assert.True(t, il.SetNextAnimation(newAnim(longMotion("b"), 2, nil), 0, false))
	assert.Equal(t, 0, il.AvailableSources())
	assert.Equal(t, 2, il.QueueLength())

	assert.False(t, il.SetNextAnimation(newAnim(longMotion("c"), 3, nil), 0, false))
	assert.Equal(t, 2, il.QueueLength())
}

func TestSetNextAnimationAfterStartPanics(t *testing.T) {
	il, _ := newInterleaver(t)
	anim := newAnim(longMotion("a"), 1, nil)
	require.True(t, il.SetNextAnimation(anim, 0, false))
	il.Update()
	il.PopFrameRobotMessages(nil)

	other, _ := newInterleaver(t)
	assert.Panics(t, func() { other.SetNextAnimation(anim, 0, false) })
}

func TestNextAnimationPreRolls(t *testing.T) {
	il, _ := newInterleaver(t)
	next := newAnim(longMotion("b"), 2, nil)
	require.True(t, il.SetNextAnimation(newAnim(longMotion("a"), 1, nil), 0, false))
	require.True(t, il.SetNextAnimation(next, 0, false))

	assert.Equal(t, streaming.BufferNone, next.State())
	il.Update()
	assert.Equal(t, streaming.BufferCompleted, next.State())
	assert.False(t, next.HasStarted())
}

func TestAbortFlagCutsCurrentAnimation(t *testing.T) {
	il, done := newInterleaver(t)
	require.True(t, il.SetNextAnimation(newAnim(longMotion("a"), 1, nil), 0, false))
	il.Update()
	il.PopFrameRobotMessages(nil)
	il.Update()
	il.PopFrameRobotMessages(nil)

	require.True(t, il.SetNextAnimation(newAnim(motionOnly("b"), 2, nil), 0, true))
	il.Update()
	assert.Equal(t, []string{"a"}, *done)
	assert.True(t, il.HasPendingMessages())
	require.Equal(t, PlayingAnimations, il.State())

	msgs := il.PopFrameRobotMessages(nil)
	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, protocol.TagAudioSilence, msgs[0].Tag)
	assert.Equal(t, protocol.TagEndOfAnimation, msgs[1].Tag)
	end, err := protocol.Decode[protocol.AnimationMarker](msgs[1], protocol.TagEndOfAnimation)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), end.AnimTag)
	assert.Equal(t, protocol.TagStartOfAnimation, msgs[2].Tag)
	assert.False(t, il.HasPendingMessages())
}

func TestPendingEndFlushesWhileNextBuffers(t *testing.T) {
	il, done := newInterleaver(t)
	require.True(t, il.SetNextAnimation(newAnim(longMotion("a"), 1, nil), 0, false))
	il.Update()
	il.PopFrameRobotMessages(nil)

	// The engine never renders, so the next animation stays buffering.
	slow := &animation.Animation{
		Name:  "slow",
		Audio: []animation.AudioKeyframe{{TriggerTimeMs: 0, EventName: "vo_slow", Volume: 1, Probability: 1}},
	}
	require.True(t, il.SetNextAnimation(newAnim(slow, 2, &renderEngine{}), 0, true))
	il.Update()
	assert.Equal(t, []string{"a"}, *done)
	require.Equal(t, BufferingAnimation, il.State())
	require.True(t, il.HasPendingMessages())

	msgs := il.PopPendingMessages(nil)
	assert.Equal(t, []protocol.Tag{protocol.TagEndOfAnimation}, tags(msgs))
	assert.False(t, il.HasPendingMessages())
	assert.Equal(t, BufferingAnimation, il.State())
	assert.Empty(t, il.PopPendingMessages(nil))
}

func TestAbortAll(t *testing.T) {
	il, done := newInterleaver(t)
	require.True(t, il.SetNextAnimation(newAnim(longMotion("a"), 1, nil), 0, false))
	require.True(t, il.SetNextAnimation(newAnim(longMotion("b"), 2, nil), 0, false))
	il.Update()
	il.PopFrameRobotMessages(nil)

	il.AbortAll()
	assert.Equal(t, NoAnimations, il.State())
	assert.Equal(t, []string{"a", "b"}, *done)
	assert.Equal(t, SourcePoolSize, il.AvailableSources())

	require.True(t, il.HasPendingMessages())
	msgs := il.PopFrameRobotMessages(nil)
	assert.Equal(t, []protocol.Tag{protocol.TagEndOfAnimation}, tags(msgs), "only a started")
	assert.False(t, il.HasPendingMessages())
}

func TestSourcesAreReused(t *testing.T) {
	il, done := newInterleaver(t)
	for round := range 3 {
		require.True(t, il.SetNextAnimation(newAnim(motionOnly("wave"), uint8(round+1), nil), 0, false))
		il.Update()
		for il.State() == PlayingAnimations {
			il.PopFrameRobotMessages(nil)
			il.Update()
		}
	}
	assert.Len(t, *done, 3)
	assert.Equal(t, SourcePoolSize, il.AvailableSources())
	assert.Equal(t, uint64(12), il.AudioClock())
}

func TestVolumeAppliesToQueuedAnimation(t *testing.T) {
	il, _ := newInterleaver(t)
	queued := newAnim(longMotion("a"), 1, nil)
	require.True(t, il.SetNextAnimation(queued, 0, false))
	assert.True(t, il.SetVolume(queued, 0.5))
	assert.False(t, il.SetVolume(newAnim(longMotion("x"), 2, nil), 0.5))
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "buffering", BufferingAnimation.String())
	assert.Equal(t, "transitioning", TransitioningBetweenAnimations.String())
}
