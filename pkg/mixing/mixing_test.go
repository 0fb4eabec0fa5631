package mixing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-animstream/internal/log"
	"github.com/teslashibe/go-animstream/pkg/audiobuf"
	"github.com/teslashibe/go-animstream/pkg/mulaw"
	"github.com/teslashibe/go-animstream/pkg/protocol"
)

type fakeInput struct {
	state  SourceState
	frame  *audiobuf.Frame
	volume float32
	muted  bool
	pops   int
}

func (f *fakeInput) State() SourceState { return f.state }
func (f *fakeInput) PopFrame() *audiobuf.Frame {
	f.pops++
	return f.frame
}
func (f *fakeInput) Volume() float32 { return f.volume }
func (f *fakeInput) Muted() bool     { return f.muted }

type recordingOutput struct {
	ticks [][]float64
}

func (r *recordingOutput) ProcessTick(samples []float64) {
	if samples == nil {
		r.ticks = append(r.ticks, nil)
		return
	}
	r.ticks = append(r.ticks, append([]float64(nil), samples...))
}

func constFrame(n int, v float32) *audiobuf.Frame {
	f := audiobuf.NewFrame(n)
	for i := range f.Samples {
		f.Samples[i] = v
	}
	return f
}

func TestConsoleMixesWithGain(t *testing.T) {
	c := NewConsole(4)
	a := &fakeInput{state: SourceReady, frame: constFrame(4, 0.2), volume: 1}
	b := &fakeInput{state: SourceReady, frame: constFrame(4, 0.4), volume: 0.5}
	out := &recordingOutput{}
	c.AddInput(a)
	c.AddInput(b)
	c.AddOutput(out)

	c.ProcessFrame()

	require.Len(t, out.ticks, 1)
	assert.InDeltaSlice(t, []float64{0.4, 0.4, 0.4, 0.4}, out.ticks[0], 1e-6)
	assert.Equal(t, uint64(1), c.AudioClock())
}

func TestConsoleSkipsMutedAndZeroVolume(t *testing.T) {
	c := NewConsole(4)
	muted := &fakeInput{state: SourceReady, frame: constFrame(4, 0.5), volume: 1, muted: true}
	quiet := &fakeInput{state: SourceReady, frame: constFrame(4, 0.5), volume: 0}
	out := &recordingOutput{}
	c.AddInput(muted)
	c.AddInput(quiet)
	c.AddOutput(out)

	c.ProcessFrame()

	require.Len(t, out.ticks, 1)
	assert.Nil(t, out.ticks[0], "nothing contributed")
	assert.Equal(t, 1, muted.pops, "muted inputs still consume their frame")
}

func TestConsoleSkipsNotReadyInputs(t *testing.T) {
	c := NewConsole(2)
	loading := &fakeInput{state: SourceLoading, frame: constFrame(2, 1), volume: 1}
	idle := &fakeInput{state: SourceNone, frame: constFrame(2, 1), volume: 1}
	out := &recordingOutput{}
	c.AddInput(loading)
	c.AddInput(idle)
	c.AddOutput(out)

	assert.Equal(t, ConsoleLoading, c.Update())
	c.ProcessFrame()
	assert.Nil(t, out.ticks[0])
	assert.Zero(t, loading.pops)
	assert.Zero(t, idle.pops)

	loading.state = SourceReady
	assert.Equal(t, ConsoleReady, c.Update())
}

func TestConsoleClearsAccumulatorEachTick(t *testing.T) {
	c := NewConsole(2)
	in := &fakeInput{state: SourceReady, frame: constFrame(2, 0.25), volume: 1}
	out := &recordingOutput{}
	c.AddInput(in)
	c.AddOutput(out)

	c.ProcessFrame()
	c.ProcessFrame()

	require.Len(t, out.ticks, 2)
	assert.InDeltaSlice(t, []float64{0.25, 0.25}, out.ticks[1], 1e-6)
}

type fakePlayer struct{ canPlay bool }

func (f *fakePlayer) CanPlayNextFrame() bool { return f.canPlay }

func TestAnimationInputSourceStates(t *testing.T) {
	src := NewAnimationInputSource(0, nil)
	require.NotNil(t, src.Buffer())
	assert.Equal(t, SourceNone, src.State())

	player := &fakePlayer{}
	src.Attach(player)
	assert.Equal(t, SourceNone, src.State(), "inactive until selected")

	src.SetActive(true)
	assert.Equal(t, SourceLoading, src.State())

	player.canPlay = true
	assert.Equal(t, SourceNone, src.State())

	f := constFrame(3, 0.1)
	src.SetFrame(f)
	assert.Equal(t, SourceReady, src.State())
	assert.Same(t, f, src.PopFrame())
	assert.Nil(t, src.PopFrame())

	src.SetVolume(0.3)
	src.SetMuted(true)
	src.Detach()
	assert.False(t, src.IsAttached())
	assert.Equal(t, float32(1), src.Volume())
	assert.False(t, src.Muted())
	assert.Equal(t, SourceNone, src.State())
}

func TestRobotAudioOutputEncodes(t *testing.T) {
	p := protocol.NewAudioPacketizer(42, audiobuf.SampleRate, audiobuf.SamplesPerFrame)
	out := NewRobotAudioOutput(p, log.Discard())

	samples := make([]float64, audiobuf.SamplesPerFrame)
	for i := range samples {
		samples[i] = 0.5
	}
	out.ProcessTick(samples)
	out.ProcessTick(nil)

	first := out.PopMessage()
	require.NotNil(t, first)
	assert.Equal(t, protocol.TagAudioSample, first.Tag)
	pkt, err := protocol.DecodeAudioSample(first)
	require.NoError(t, err)
	require.Len(t, pkt.Payload, audiobuf.SamplesPerFrame)
	assert.Equal(t, mulaw.EncodeFloat64(0.5), pkt.Payload[0])
	first.Release()

	second := out.PopMessage()
	require.NotNil(t, second)
	assert.Equal(t, protocol.TagAudioSilence, second.Tag)
	assert.Nil(t, out.PopMessage())

	assert.Equal(t, OutputStats{Samples: 1, Silence: 1}, out.Stats())
}
