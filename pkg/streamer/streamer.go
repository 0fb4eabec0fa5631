// Package streamer runs the fixed-rate engine tick: it advances the queued
// animations, turns their frames into robot messages and sends as many as
// the robot's reported buffer space allows.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-animstream/pkg/animation"
	"github.com/teslashibe/go-animstream/pkg/interleaver"
	"github.com/teslashibe/go-animstream/pkg/metrics"
	"github.com/teslashibe/go-animstream/pkg/msgbuffer"
	"github.com/teslashibe/go-animstream/pkg/protocol"
	"github.com/teslashibe/go-animstream/pkg/streaming"
)

// RobotLink is the connection to the robot.
type RobotLink interface {
	msgbuffer.Sender

	// Connected reports whether a robot is attached.
	Connected() bool

	// Session changes every time a robot connects.
	Session() uint64

	// PlayedCounters returns the robot's cumulative bytes and audio frames
	// played, as last reported.
	PlayedCounters() (bytes, audioFrames int32)
}

// Options wires a Streamer.
type Options struct {
	Config   Config
	Registry *animation.Registry
	Engine   streaming.AudioEngine
	Link     RobotLink
	Metrics  *metrics.StreamerMetrics
	Logger   *slog.Logger
}

// PlayOptions controls one Play call.
type PlayOptions struct {
	// Mode overrides the configured default playback mode.
	Mode *streaming.PlaybackMode

	// FadeMs is recorded with the animation for a future cross-fade.
	FadeMs int

	// Abort cuts the animation currently playing.
	Abort bool

	// Volume of the animation's robot audio, 0 means 1.
	Volume float32
}

// CompleteFunc is called after an animation leaves the queue.
type CompleteFunc func(name string, id uuid.UUID, aborted bool)

type completion struct {
	name    string
	id      uuid.UUID
	aborted bool
}

// Streamer owns the interleaver and the message buffer. Tick, Play and
// Abort are serialized by one mutex; completion callbacks run after it is
// released.
type Streamer struct {
	cfg         Config
	defaultMode streaming.PlaybackMode
	registry    *animation.Registry
	engine      streaming.AudioEngine
	link        RobotLink
	metrics     *metrics.StreamerMetrics
	logger      *slog.Logger

	mu          sync.Mutex
	il          *interleaver.Interleaver
	buf         *msgbuffer.Buffer
	credit      *msgbuffer.Credit
	out         []*protocol.RobotMessage
	session     uint64
	nextTag     uint8
	lastCredit  msgbuffer.Budget
	completions []completion

	// Diagnostics
	tickCount     uint64
	errorCount    uint64
	lastErrorTime time.Time
	completed     uint64
	aborted       uint64

	hooksMu sync.RWMutex
	hooks   []CompleteFunc

	running atomic.Bool
}

// New creates a streamer. It does not start ticking; call Run.
func New(opts Options) (*Streamer, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("streamer config: %w", err)
	}
	if opts.Registry == nil {
		return nil, errors.New("streamer: registry is required")
	}
	if opts.Link == nil {
		return nil, errors.New("streamer: robot link is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	mode, _ := streaming.ParsePlaybackMode(opts.Config.DefaultMode)

	s := &Streamer{
		cfg:         opts.Config,
		defaultMode: mode,
		registry:    opts.Registry,
		engine:      opts.Engine,
		link:        opts.Link,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("component", "streamer"),
		buf:         msgbuffer.New(opts.Logger),
		credit:      msgbuffer.NewCredit(opts.Config.Flow, opts.Logger),
		il:          interleaver.New(interleaver.Options{Logger: opts.Logger}),
	}
	s.credit.OnClamp = func(string) { s.metrics.RecordCreditClamp() }
	s.il.OnAnimationComplete(s.animationDone)
	return s, nil
}

// OnAnimationComplete registers fn for every animation that leaves the queue.
func (s *Streamer) OnAnimationComplete(fn CompleteFunc) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, fn)
	s.hooksMu.Unlock()
}

// animationDone runs inside the interleaver, with s.mu held.
func (s *Streamer) animationDone(anim *streaming.StreamingAnimation) {
	result := "completed"
	if anim.IsAborted() {
		result = "aborted"
		s.aborted++
	} else {
		s.completed++
	}
	s.metrics.RecordAnimation(result)
	for _, ev := range anim.Events() {
		s.metrics.RecordAudioEvent(ev.State)
	}
	s.completions = append(s.completions, completion{name: anim.Name(), id: anim.ID(), aborted: anim.IsAborted()})
}

func (s *Streamer) dispatchCompletions() {
	s.mu.Lock()
	done := s.completions
	s.completions = nil
	s.mu.Unlock()
	if len(done) == 0 {
		return
	}

	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, c := range done {
		for _, fn := range hooks {
			fn(c.name, c.id, c.aborted)
		}
	}
}

// Play queues the named animation and returns its instance id.
func (s *Streamer) Play(name string, opts PlayOptions) (uuid.UUID, error) {
	anim, err := s.registry.Get(name)
	if err != nil {
		return uuid.Nil, err
	}
	mode := s.defaultMode
	if opts.Mode != nil {
		mode = *opts.Mode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTag++
	if s.nextTag == 0 {
		s.nextTag = 1
	}
	sa := streaming.New(anim, streaming.Options{
		Mode:   mode,
		Engine: s.engine,
		Tag:    s.nextTag,
		Logger: s.logger,
	})

	if !s.il.SetNextAnimation(sa, opts.FadeMs, opts.Abort) {
		sa.Close()
		if s.il.QueueLength() < interleaver.MaxQueuedAnimations {
			return uuid.Nil, fmt.Errorf("play %s: %w", name, interleaver.ErrNoSource)
		}
		return uuid.Nil, fmt.Errorf("play %s: %w", name, ErrQueueFull)
	}
	if opts.Volume > 0 {
		s.il.SetVolume(sa, opts.Volume)
	}
	s.logger.Info("play", "anim", name, "id", sa.ID(), "mode", mode.String(), "tag", sa.Tag(), "abort", opts.Abort)
	return sa.ID(), nil
}

// Abort stops every queued animation. End markers for started ones go out
// with the next tick.
func (s *Streamer) Abort() {
	s.mu.Lock()
	n := s.il.QueueLength()
	s.il.AbortAll()
	s.mu.Unlock()
	s.logger.Info("abort", "animations", n)
	s.dispatchCompletions()
}

// Run ticks at the configured period until ctx is done. Queued animations
// are aborted and unsent messages dropped on return.
func (s *Streamer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(s.cfg.TickPeriod())
	defer ticker.Stop()

	s.logger.Info("streamer started", "tick_ms", s.cfg.TickPeriodMs, "lead_frames", s.cfg.Flow.LeadFrames)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-ticker.C:
			// send errors are logged and counted in Tick
			_ = s.Tick()
		}
	}
}

func (s *Streamer) shutdown() {
	s.Abort()
	s.mu.Lock()
	s.buf.Clear()
	s.mu.Unlock()
	s.logger.Info("streamer stopped", "ticks", s.tickCount, "errors", s.errorCount)
}

// IsRunning reports whether Run is active.
func (s *Streamer) IsRunning() bool { return s.running.Load() }

// Tick runs one engine cycle. It returns a wrapped msgbuffer.ErrSendFailed
// when the link failed; the unsent messages stay queued.
func (s *Streamer) Tick() error {
	start := time.Now()
	err := s.tick()
	s.metrics.ObserveTick(time.Since(start))
	s.dispatchCompletions()
	return err
}

func (s *Streamer) tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickCount++
	connected := s.link.Connected()
	s.metrics.SetRobotConnected(connected)

	if session := s.link.Session(); session != s.session {
		s.logger.Info("robot session changed", "session", session, "dropped", s.buf.Len())
		s.session = session
		s.buf.Clear()
		s.buf.ResetCounters()
	}

	s.il.Update()
	s.metrics.SetInterleaverState(s.il.State().String())

	var err error
	if connected {
		err = s.send()
	}

	s.metrics.SetQueue(s.buf.Len(), s.buf.QueuedBytes())
	if s.cfg.HeartbeatTicks > 0 && s.tickCount%uint64(s.cfg.HeartbeatTicks) == 0 {
		streamed := s.buf.Counters()
		s.logger.Info("heartbeat",
			"ticks", s.tickCount,
			"errors", s.errorCount,
			"state", s.il.State().String(),
			"queue", s.il.QueueLength(),
			"buffered", s.buf.Len(),
			"bytes_streamed", streamed.BytesStreamed,
			"frames_streamed", streamed.AudioFramesStreamed,
		)
	}
	return err
}

// send drains the message buffer within this tick's credit, popping
// interleaved frames while the buffer runs empty and audio credit remains.
func (s *Streamer) send() error {
	streamed := s.buf.Counters()
	playedBytes, playedFrames := s.link.PlayedCounters()
	budget := msgbuffer.Budget{
		Bytes:       s.credit.CalculateNumberOfBytesToSend(streamed.BytesStreamed, playedBytes),
		AudioFrames: s.credit.CalculateNumberOfFramesToSend(streamed.AudioFramesStreamed, playedFrames),
	}
	s.lastCredit = budget
	s.metrics.SetCredit(budget.Bytes, budget.AudioFrames)

	for {
		res, err := s.buf.SendMessages(s.link, budget)
		s.metrics.RecordSent(int(res.AudioFramesSent), res.MessagesSent-int(res.AudioFramesSent), int(res.BytesSent))
		budget.Bytes -= res.BytesSent
		budget.AudioFrames -= res.AudioFramesSent
		if err != nil {
			s.sendFailed(err)
			return err
		}
		if res.MoreRemains() || budget.Bytes <= 0 {
			return nil
		}
		switch {
		case s.il.State() == interleaver.PlayingAnimations && budget.AudioFrames > 0:
			s.out = s.il.PopFrameRobotMessages(s.out[:0])
		case s.il.HasPendingMessages():
			// end markers only, whatever the state
			s.out = s.il.PopPendingMessages(s.out[:0])
		default:
			return nil
		}

		for _, m := range s.out {
			s.buf.BufferMessageToSend(m)
		}
		clear(s.out)
	}
}

func (s *Streamer) sendFailed(err error) {
	s.errorCount++
	s.metrics.RecordSendFailure()
	// max once per 5 seconds
	if s.lastErrorTime.IsZero() || time.Since(s.lastErrorTime) > 5*time.Second {
		s.logger.Warn("send to robot failed", "error", err, "errors", s.errorCount, "buffered", s.buf.Len())
		s.lastErrorTime = time.Now()
	}
}
