package robotsim

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-animstream/internal/log"
	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/audiobuf"
	"github.com/teslashibe/go-animstream/pkg/mulaw"
	"github.com/teslashibe/go-animstream/pkg/protocol"
	"github.com/teslashibe/go-animstream/pkg/robotlink"
	"github.com/teslashibe/go-animstream/pkg/streamer"
)

func marshal(t *testing.T, m *protocol.RobotMessage) []byte {
	t.Helper()
	data, err := m.MarshalBinary()
	require.NoError(t, err)
	return data
}

func TestTickPlaysOneAudioFramePerTick(t *testing.T) {
	sim := New(Config{Capacity: 4096}, log.Discard())
	p := protocol.NewAudioPacketizer(1, audiobuf.SampleRate, audiobuf.SamplesPerFrame)

	start, err := protocol.NewStartOfAnimation(3, "wave")
	require.NoError(t, err)
	head, err := protocol.NewHeadAngle(protocol.HeadAngle{AngleDeg: 10})
	require.NoError(t, err)
	end, err := protocol.NewEndOfAnimation(3)
	require.NoError(t, err)

	codes := make([]byte, audiobuf.SamplesPerFrame)
	for i := range codes {
		codes[i] = mulaw.EncodeFloat64(0.5)
	}
	sample, err := p.Sample(codes)
	require.NoError(t, err)

	msgs := []*protocol.RobotMessage{sample, start, head, p.Silence(), end}
	var total int
	for _, m := range msgs {
		total += m.Size()
		sim.Receive(marshal(t, m))
	}
	assert.Equal(t, 5, sim.Stats().Buffered)
	assert.Equal(t, total, sim.Stats().BufferedBytes)

	sim.Tick()
	st := sim.Stats()
	assert.EqualValues(t, 1, st.FramesPlayed)
	assert.EqualValues(t, 1, st.Starts)
	assert.EqualValues(t, 1, st.Keyframes)
	assert.EqualValues(t, 3, st.AnimTag)
	assert.InDelta(t, 0.5, st.LastRMS, 0.02)
	assert.Equal(t, 2, st.Buffered)

	sim.Tick()
	st = sim.Stats()
	assert.EqualValues(t, 2, st.FramesPlayed)
	assert.EqualValues(t, 1, st.SilenceFrames)
	assert.EqualValues(t, 1, st.Ends)
	assert.EqualValues(t, total, st.BytesPlayed)
	assert.Zero(t, st.LastRMS)
	assert.Zero(t, st.BufferedBytes)

	// Nothing buffered: tick is a no-op.
	sim.Tick()
	assert.EqualValues(t, 2, sim.Stats().FramesPlayed)
}

func TestReceiveOverflow(t *testing.T) {
	p := protocol.NewAudioPacketizer(1, audiobuf.SampleRate, audiobuf.SamplesPerFrame)
	silence := p.Silence()
	sim := New(Config{Capacity: silence.Size() * 2}, log.Discard())

	for range 3 {
		sim.Receive(marshal(t, silence))
	}
	st := sim.Stats()
	assert.Equal(t, 2, st.Buffered)
	assert.Equal(t, silence.Size()*2, st.BufferedBytes)
	assert.EqualValues(t, 1, st.Overflows)
	assert.EqualValues(t, 3, st.Received)

	// Playing a frame makes room again.
	sim.Tick()
	sim.Receive(marshal(t, silence))
	st = sim.Stats()
	assert.Equal(t, 2, st.Buffered)
	assert.EqualValues(t, 1, st.Overflows)
	assert.EqualValues(t, 1, st.FramesPlayed)
}

func TestReceiveIgnoresGarbage(t *testing.T) {
	sim := New(DefaultConfig(), log.Discard())
	sim.Receive([]byte{0xff})
	assert.Zero(t, sim.Stats().Received)
}

func TestEndToEnd(t *testing.T) {
	const port = 18190

	link := robotlink.New(robotlink.DefaultConfig(), nil, log.Discard())
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	link.RegisterRoutes(app)
	go app.Listen(fmt.Sprintf(":%d", port))
	t.Cleanup(func() { _ = app.Shutdown() })
	time.Sleep(100 * time.Millisecond)

	reg := animation.NewRegistry()
	reg.Register(&animation.Animation{
		Name: "wave",
		Face: []animation.FaceKeyframe{{TriggerTimeMs: 0, FaceImage: protocol.FaceImage{Image: "smile"}}},
		Head: []animation.HeadKeyframe{{TriggerTimeMs: 0}, {TriggerTimeMs: 264}},
	})

	cfg := streamer.DefaultConfig()
	cfg.TickPeriodMs = 5
	s, err := streamer.New(streamer.Options{Config: cfg, Registry: reg, Link: link, Logger: log.Discard()})
	require.NoError(t, err)

	done := make(chan string, 1)
	s.OnAnimationComplete(func(name string, _ uuid.UUID, aborted bool) {
		if !aborted {
			done <- name
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	simCfg := DefaultConfig()
	simCfg.URL = fmt.Sprintf("ws://localhost:%d/ws/robot", port)
	simCfg.TickPeriod = 5 * time.Millisecond
	sim := New(simCfg, log.Discard())
	simErr := make(chan error, 1)
	go func() { simErr <- sim.Run(ctx) }()

	require.Eventually(t, link.Connected, 2*time.Second, 10*time.Millisecond)

	streamErr := make(chan error, 1)
	go func() { streamErr <- s.Run(ctx) }()

	_, err = s.Play("wave", streamer.PlayOptions{})
	require.NoError(t, err)

	select {
	case name := <-done:
		assert.Equal(t, "wave", name)
	case <-time.After(3 * time.Second):
		t.Fatal("animation never completed")
	}

	require.Eventually(t, func() bool { return sim.Stats().Ends == 1 }, 2*time.Second, 10*time.Millisecond)
	st := sim.Stats()
	assert.EqualValues(t, 1, st.Starts)
	assert.GreaterOrEqual(t, st.FramesPlayed, uint32(9))
	assert.Zero(t, st.Overflows)
	assert.NotEmpty(t, st.SessionID)

	cancel()
	assert.NoError(t, <-simErr)
	assert.NoError(t, <-streamErr)
}
