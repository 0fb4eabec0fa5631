package audiobuf

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ramp(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)/1000
	}
	return out
}

func TestSamplesPerFrame(t *testing.T) {
	assert.Equal(t, 792, SamplesPerFrame)
}

func TestBufferReframesArbitraryChunks(t *testing.T) {
	b := New(WithFrameSize(4))
	b.PrepareAudioBuffer()
	b.UpdateBuffer(ramp(3, 0))
	b.UpdateBuffer(ramp(6, 1))
	b.CloseAudioBuffer()

	s := b.Front()
	require.NotNil(t, s)
	assert.True(t, s.IsComplete())
	require.Equal(t, 3, s.FrameCount())

	f1, _ := s.PopFrame()
	f2, _ := s.PopFrame()
	f3, _ := s.PopFrame()
	assert.InDeltaSlice(t, []float32{0, 0.001, 0.002, 1}, f1.Samples, 1e-6)
	assert.InDeltaSlice(t, []float32{1.001, 1.002, 1.003, 1.004}, f2.Samples, 1e-6)
	// the trailing partial frame is zero padded on close
	assert.InDeltaSlice(t, []float32{1.005, 0, 0, 0}, f3.Samples, 1e-6)
	assert.True(t, s.IsDrained())

	b.PopStream()
	assert.False(t, b.HasStream())
}

func TestBufferNilSamplesAppendSilence(t *testing.T) {
	b := New(WithFrameSize(4))
	b.PrepareAudioBuffer()
	b.UpdateBuffer(nil)
	b.UpdateSilence(2)

	s := b.Front()
	require.Equal(t, 3, s.FrameCount())
	f, ok := s.PopFrame()
	assert.True(t, ok)
	assert.Nil(t, f)
	assert.True(t, f.IsSilence())
}

func TestStreamCreatedTimeSetOnFirstFrame(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	b := New(WithFrameSize(2), WithClock(fixedClock(at)))
	b.PrepareAudioBuffer()

	s := b.Front()
	_, ok := s.CreatedTimeMs()
	assert.False(t, ok, "no frame yet")

	b.UpdateBuffer([]float32{0.1, 0.2})
	ms, ok := s.CreatedTimeMs()
	require.True(t, ok)
	assert.Equal(t, at.UnixMilli(), ms)
}

func TestPrepareWhileOpenPanics(t *testing.T) {
	b := New()
	b.PrepareAudioBuffer()
	assert.PanicsWithError(t,
		fmt.Sprintf("prepare audio buffer: stream %d: %v", b.Front().ID(), ErrStreamOpen),
		func() { b.PrepareAudioBuffer() })
}

func TestStreamDoubleCompletePanics(t *testing.T) {
	s := newStream(time.Now)
	s.SetComplete()
	assert.Panics(t, func() { s.SetComplete() })
	assert.Panics(t, func() { s.PushFrame(nil) })
}

func TestPopStreamRequiresDrained(t *testing.T) {
	b := New(WithFrameSize(2))
	b.PrepareAudioBuffer()
	b.UpdateBuffer([]float32{1, 1})
	assert.Panics(t, func() { b.PopStream() })
	b.CloseAudioBuffer()
	assert.Panics(t, func() { b.PopStream() })
}

func TestOnlyBackStreamIsOpen(t *testing.T) {
	b := New(WithFrameSize(2))
	b.PrepareAudioBuffer()
	b.UpdateBuffer([]float32{1, 1})
	b.CloseAudioBuffer()
	b.PrepareAudioBuffer()

	assert.Equal(t, 2, b.StreamCount())
	assert.True(t, b.HasPendingStream())
	assert.True(t, b.Front().IsComplete())
}

func TestResetWaitsForFinalClose(t *testing.T) {
	b := New(WithFrameSize(2))
	b.PrepareAudioBuffer()
	b.UpdateBuffer([]float32{1, 1})

	b.ResetAudioBuffer(false)
	assert.False(t, b.HasStream())
	assert.True(t, b.IsWaitingForReset())
	assert.False(t, b.IsIdle())

	// late frames and a late prepare from the aborted posting are discarded
	b.UpdateBuffer([]float32{1, 1})
	b.PrepareAudioBuffer()
	assert.False(t, b.HasStream())

	b.CloseAudioBuffer()
	assert.False(t, b.IsWaitingForReset())
	assert.True(t, b.IsIdle())

	b.PrepareAudioBuffer()
	assert.True(t, b.HasStream())
}

func TestResetWithAllEventsCompletedDoesNotWait(t *testing.T) {
	b := New(WithFrameSize(2))
	b.PrepareAudioBuffer()
	b.UpdateBuffer([]float32{1, 1})
	b.CloseAudioBuffer()

	b.ResetAudioBuffer(true)
	assert.False(t, b.HasStream())
	assert.False(t, b.IsWaitingForReset())
}

func TestResetWithoutOpenStreamDoesNotWait(t *testing.T) {
	b := New()
	b.ResetAudioBuffer(false)
	assert.False(t, b.IsWaitingForReset())
}

func TestBufferDoubleClosePanics(t *testing.T) {
	b := New(WithFrameSize(2))
	b.PrepareAudioBuffer()
	b.UpdateBuffer([]float32{1, 1})
	b.CloseAudioBuffer()
	assert.PanicsWithError(t, "close audio buffer: "+ErrStreamClosed.Error(), func() { b.CloseAudioBuffer() })
}

func TestStaleCloseAfterResetIsIgnored(t *testing.T) {
	b := New(WithFrameSize(2))
	b.PrepareAudioBuffer()
	b.CloseAudioBuffer()
	b.ResetAudioBuffer(true)
	assert.NotPanics(t, func() { b.CloseAudioBuffer() })

	b.PrepareAudioBuffer()
	b.CloseAudioBuffer()
	b.Clear()
	assert.NotPanics(t, func() { b.CloseAudioBuffer() })

	// a fresh buffer has closed nothing yet
	assert.NotPanics(t, func() { New().CloseAudioBuffer() })
}

func TestClear(t *testing.T) {
	b := New(WithFrameSize(2))
	b.PrepareAudioBuffer()
	b.ResetAudioBuffer(false)
	b.Clear()
	assert.True(t, b.IsIdle())
	assert.False(t, b.HasStream())
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const frames = 200
	b := New(WithFrameSize(8))
	b.PrepareAudioBuffer()
	s := b.Front()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < frames; i++ {
			b.UpdateBuffer(ramp(8, float32(i)))
		}
		b.CloseAudioBuffer()
	}()

	got := 0
	for !s.IsDrained() {
		if f, ok := s.PopFrame(); ok {
			require.InDelta(t, float32(got), f.Samples[0], 1e-6)
			got++
		}
	}
	wg.Wait()
	assert.Equal(t, frames, got)
	assert.Equal(t, frames, s.TotalFrames())
}
