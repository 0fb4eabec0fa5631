package streamer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teslashibe/go-animstream/internal/log"
	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/metrics"
	"github.com/teslashibe/go-animstream/pkg/msgbuffer"
	"github.com/teslashibe/go-animstream/pkg/protocol"
	"github.com/teslashibe/go-animstream/pkg/streaming"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errLinkDown = errors.New("link down")

// fakeLink records every message handed to it.
type fakeLink struct {
	mu           sync.Mutex
	connected    bool
	session      uint64
	playedBytes  int32
	playedFrames int32
	failOn       int // fail the n-th send attempt, 0 never
	attempts     int
	tags         []protocol.Tag
}

func newFakeLink() *fakeLink {
	return &fakeLink{connected: true, session: 1}
}

func (l *fakeLink) SendMessage(m msgbuffer.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.failOn > 0 && l.attempts == l.failOn {
		return errLinkDown
	}
	l.tags = append(l.tags, m.(*protocol.RobotMessage).Tag)
	return nil
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) Session() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

func (l *fakeLink) PlayedCounters() (int32, int32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.playedBytes, l.playedFrames
}

func (l *fakeLink) sent() []protocol.Tag {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.Tag(nil), l.tags...)
}

func (l *fakeLink) audioFrames() int {
	n := 0
	for _, t := range l.sent() {
		if t == protocol.TagAudioSample || t == protocol.TagAudioSilence {
			n++
		}
	}
	return n
}

func (l *fakeLink) set(fn func(l *fakeLink)) {
	l.mu.Lock()
	fn(l)
	l.mu.Unlock()
}

func testRegistry() *animation.Registry {
	r := animation.NewRegistry()
	r.Register(&animation.Animation{
		Name: "wave",
		Face: []animation.FaceKeyframe{{TriggerTimeMs: 0, FaceImage: protocol.FaceImage{Image: "smile"}}},
		Head: []animation.HeadKeyframe{{TriggerTimeMs: 0}},
		Lift: []animation.LiftKeyframe{{TriggerTimeMs: 66}},
		BackpackLights: []animation.BackpackKeyframe{
			{TriggerTimeMs: 99},
		},
	})
	r.Register(&animation.Animation{
		Name: "long",
		Head: []animation.HeadKeyframe{{TriggerTimeMs: 0}, {TriggerTimeMs: 1980}},
	})
	r.Register(&animation.Animation{
		Name:  "chirp",
		Audio: []animation.AudioKeyframe{{TriggerTimeMs: 0, EventName: "sfx_chirp", Volume: 1, Probability: 1}},
		Head:  []animation.HeadKeyframe{{TriggerTimeMs: 0}, {TriggerTimeMs: 99}},
	})
	return r
}

type completed struct {
	name    string
	aborted bool
}

func newTestStreamer(t *testing.T, link *fakeLink, cfg Config) (*Streamer, *[]completed) {
	t.Helper()
	m, err := metrics.NewStreamerMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	s, err := New(Options{
		Config:   cfg,
		Registry: testRegistry(),
		Link:     link,
		Metrics:  m,
		Logger:   log.Discard(),
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var done []completed
	s.OnAnimationComplete(func(name string, _ uuid.UUID, aborted bool) {
		mu.Lock()
		done = append(done, completed{name, aborted})
		mu.Unlock()
	})
	return s, &done
}

func TestTickStreamsAnimation(t *testing.T) {
	link := newFakeLink()
	s, done := newTestStreamer(t, link, DefaultConfig())

	id, err := s.Play("wave", PlayOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	require.NoError(t, s.Tick())

	assert.Equal(t, []protocol.Tag{
		protocol.TagAudioSilence, protocol.TagStartOfAnimation, protocol.TagFaceImage, protocol.TagHeadAngle,
		protocol.TagAudioSilence,
		protocol.TagAudioSilence, protocol.TagLiftHeight,
		protocol.TagAudioSilence, protocol.TagBackpackLights, protocol.TagEndOfAnimation,
	}, link.sent())
	assert.Equal(t, []completed{{"wave", false}}, *done)

	st := s.Status()
	assert.Equal(t, uint64(1), st.Completed)
	assert.Equal(t, "no_animations", st.State)
	assert.Equal(t, int32(4), st.Streamed.AudioFramesStreamed)
	assert.Zero(t, st.BufferedMessages)
}

func TestAudioFrameCreditLimitsLead(t *testing.T) {
	link := newFakeLink()
	s, _ := newTestStreamer(t, link, DefaultConfig())
	_, err := s.Play("long", PlayOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Tick())
	assert.Equal(t, int(msgbuffer.LeadFrames), link.audioFrames())

	require.NoError(t, s.Tick())
	assert.Equal(t, int(msgbuffer.LeadFrames), link.audioFrames(), "no credit until the robot plays")

	st := s.Status()
	link.set(func(l *fakeLink) {
		l.playedFrames = st.Streamed.AudioFramesStreamed
		l.playedBytes = st.Streamed.BytesStreamed
	})
	require.NoError(t, s.Tick())
	assert.Equal(t, 2*int(msgbuffer.LeadFrames), link.audioFrames())
}

func TestByteCreditLimitsSend(t *testing.T) {
	link := newFakeLink()
	cfg := DefaultConfig()
	cfg.Flow.MaxBytesPerTick = 2
	s, _ := newTestStreamer(t, link, cfg)
	_, err := s.Play("wave", PlayOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Tick())
	assert.Equal(t, []protocol.Tag{protocol.TagAudioSilence}, link.sent(), "the start marker does not fit")
	assert.Equal(t, 3, s.Status().BufferedMessages)
}

func TestPlayErrors(t *testing.T) {
	s, _ := newTestStreamer(t, newFakeLink(), DefaultConfig())

	_, err := s.Play("missing", PlayOptions{})
	assert.ErrorIs(t, err, animation.ErrNotFound)

	_, err = s.Play("long", PlayOptions{})
	require.NoError(t, err)
	_, err = s.Play("long", PlayOptions{})
	require.NoError(t, err)
	_, err = s.Play("long", PlayOptions{})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Len(t, s.Status().Queue, 2)
}

func TestSendFailureKeepsQueue(t *testing.T) {
	link := newFakeLink()
	link.failOn = 3
	s, _ := newTestStreamer(t, link, DefaultConfig())
	_, err := s.Play("wave", PlayOptions{})
	require.NoError(t, err)

	err = s.Tick()
	require.ErrorIs(t, err, msgbuffer.ErrSendFailed)
	assert.ErrorIs(t, err, errLinkDown)
	assert.Equal(t, []protocol.Tag{protocol.TagAudioSilence, protocol.TagStartOfAnimation}, link.sent())

	st := s.Status()
	assert.Equal(t, uint64(1), st.SendErrors)
	assert.Equal(t, 2, st.BufferedMessages)

	link.set(func(l *fakeLink) { l.failOn = 0 })
	require.NoError(t, s.Tick())
	sent := link.sent()
	require.Greater(t, len(sent), 3)
	assert.Equal(t, protocol.TagFaceImage, sent[2], "failed message goes first")
	assert.Equal(t, protocol.TagEndOfAnimation, sent[len(sent)-1])
}

func TestDisconnectedRobotGetsNothing(t *testing.T) {
	link := newFakeLink()
	link.connected = false
	s, done := newTestStreamer(t, link, DefaultConfig())
	_, err := s.Play("wave", PlayOptions{})
	require.NoError(t, err)

	for range 5 {
		require.NoError(t, s.Tick())
	}
	assert.Empty(t, link.sent())
	assert.Empty(t, *done)
	assert.False(t, s.Status().Connected)
	assert.Equal(t, uint64(5), s.Status().Ticks)
}

func TestNewSessionResetsCounters(t *testing.T) {
	link := newFakeLink()
	s, _ := newTestStreamer(t, link, DefaultConfig())
	_, err := s.Play("long", PlayOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Tick())
	st := s.Status()
	link.set(func(l *fakeLink) {
		l.playedFrames = st.Streamed.AudioFramesStreamed
		l.playedBytes = st.Streamed.BytesStreamed
	})
	require.NoError(t, s.Tick())
	assert.Equal(t, 2*msgbuffer.LeadFrames, s.Status().Streamed.AudioFramesStreamed)

	link.set(func(l *fakeLink) {
		l.session = 2
		l.playedFrames = 0
		l.playedBytes = 0
	})
	require.NoError(t, s.Tick())
	assert.Equal(t, msgbuffer.LeadFrames, s.Status().Streamed.AudioFramesStreamed)
}

func TestAbortSendsEndMarker(t *testing.T) {
	link := newFakeLink()
	s, done := newTestStreamer(t, link, DefaultConfig())
	_, err := s.Play("long", PlayOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Tick())

	s.Abort()
	assert.Equal(t, []completed{{"long", true}}, *done)

	require.NoError(t, s.Tick())
	sent := link.sent()
	assert.Equal(t, protocol.TagEndOfAnimation, sent[len(sent)-1])
	assert.Equal(t, uint64(1), s.Status().Aborted)
}

func TestPlayWithAbortReplacesCurrent(t *testing.T) {
	link := newFakeLink()
	s, done := newTestStreamer(t, link, DefaultConfig())
	_, err := s.Play("long", PlayOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Tick())

	_, err = s.Play("wave", PlayOptions{Abort: true})
	require.NoError(t, err)
	link.set(func(l *fakeLink) { l.playedFrames = msgbuffer.LeadFrames })
	require.NoError(t, s.Tick())

	assert.Equal(t, []completed{{"long", true}, {"wave", false}}, *done)
}

// stalledEngine accepts robot posts and never renders them.
type stalledEngine struct{}

func (stalledEngine) PostEvent(streaming.PostRequest, func(streaming.EventResult)) (uint32, error) {
	return 1, nil
}

func (stalledEngine) StopEvents(uuid.UUID) {}

func TestAbortEndMarkerSentWhileNextBuffers(t *testing.T) {
	link := newFakeLink()
	s, err := New(Options{
		Config:   DefaultConfig(),
		Registry: testRegistry(),
		Engine:   stalledEngine{},
		Link:     link,
		Logger:   log.Discard(),
	})
	require.NoError(t, err)

	_, err = s.Play("long", PlayOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Tick())

	_, err = s.Play("chirp", PlayOptions{Abort: true})
	require.NoError(t, err)
	require.NoError(t, s.Tick())

	assert.Equal(t, "buffering", s.Status().State)
	sent := link.sent()
	assert.Equal(t, protocol.TagEndOfAnimation, sent[len(sent)-1])
}

func TestDeviceModeCompletes(t *testing.T) {
	link := newFakeLink()
	s, done := newTestStreamer(t, link, DefaultConfig())
	mode := streaming.PlayOnDevice
	_, err := s.Play("chirp", PlayOptions{Mode: &mode})
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, s.Tick())
	}
	assert.Equal(t, []completed{{"chirp", false}}, *done)
	sent := link.sent()
	assert.Equal(t, protocol.TagEndOfAnimation, sent[len(sent)-1])
	assert.Equal(t, 4, link.audioFrames())
}

func TestRunStopsOnCancel(t *testing.T) {
	link := newFakeLink()
	cfg := DefaultConfig()
	cfg.TickPeriodMs = 1
	s, _ := newTestStreamer(t, link, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Status().Ticks > 3 }, time.Second, time.Millisecond)
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, s.IsRunning())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"zero tick", func(c *Config) { c.TickPeriodMs = 0 }, false},
		{"bad mode", func(c *Config) { c.DefaultMode = "speaker" }, false},
		{"negative heartbeat", func(c *Config) { c.HeartbeatTicks = -1 }, false},
		{"zero lead", func(c *Config) { c.Flow.LeadFrames = 0 }, false},
		{"device mode", func(c *Config) { c.DefaultMode = "device" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{Config: DefaultConfig(), Link: newFakeLink()})
	assert.Error(t, err)
	_, err = New(Options{Config: DefaultConfig(), Registry: animation.NewRegistry()})
	assert.Error(t, err)
}
