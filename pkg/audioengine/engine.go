package audioengine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-animstream/pkg/streaming"
)

type job struct {
	id   uint32
	req  streaming.PostRequest
	done func(streaming.EventResult)

	// mu orders cancellation against PrepareAudioBuffer and UpdateBuffer.
	mu        sync.Mutex
	cancelled bool
	timer     *time.Timer
	finished  atomic.Bool
}

func (j *job) cancel() {
	j.mu.Lock()
	j.cancelled = true
	j.mu.Unlock()
}

func (j *job) isCancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// Stats counts engine activity.
type Stats struct {
	Posted    uint64 `json:"posted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
	Queued    int    `json:"queued"`
	Device    int    `json:"device"`
	Cached    int    `json:"cached_clips"`
}

// Engine renders posted events on one worker goroutine, in post order.
// Device events never render PCM; they complete after the clip duration.
type Engine struct {
	cfg    Config
	bank   *SoundBank
	logger *slog.Logger

	mu      sync.Mutex
	queue   []*job
	current *job
	device  map[uint32]*job
	closed  bool

	wake   chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
	nextID atomic.Uint32

	posted    atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
}

var _ streaming.AudioEngine = (*Engine)(nil)

// New starts an engine. Close stops it.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio engine config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audioengine")

	e := &Engine{
		cfg:    cfg,
		bank:   NewSoundBank(cfg, logger),
		logger: logger,
		device: make(map[uint32]*job),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	e.wg.Add(1)
	go e.worker()
	return e, nil
}

// Bank is the engine's sound bank.
func (e *Engine) Bank() *SoundBank { return e.bank }

// PostEvent queues one event. done is called exactly once unless PostEvent
// returns an error.
func (e *Engine) PostEvent(req streaming.PostRequest, done func(streaming.EventResult)) (uint32, error) {
	if !e.bank.Has(req.Event) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, req.Event)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, ErrClosed
	}
	if len(e.queue) >= e.cfg.QueueSize {
		e.mu.Unlock()
		return 0, ErrQueueFull
	}
	id := e.nextID.Add(1)
	e.queue = append(e.queue, &job{id: id, req: req, done: done})
	e.mu.Unlock()

	e.posted.Add(1)
	select {
	case e.wake <- struct{}{}:
	default:
	}
	return id, nil
}

// StopEvents cancels everything owner has posted. Queued events finish with
// an error and never open a stream. An in-flight stream stops early and is
// still closed. Once StopEvents returns no new stream is opened for owner.
func (e *Engine) StopEvents(owner uuid.UUID) {
	var dropped []*job

	e.mu.Lock()
	kept := e.queue[:0]
	for _, j := range e.queue {
		if j.req.Owner == owner {
			dropped = append(dropped, j)
		} else {
			kept = append(kept, j)
		}
	}
	clear(e.queue[len(kept):])
	e.queue = kept

	current := e.current
	if current != nil && current.req.Owner != owner {
		current = nil
	}
	var devices []*job
	for _, j := range e.device {
		if j.req.Owner == owner {
			devices = append(devices, j)
		}
	}
	e.mu.Unlock()

	if current != nil {
		current.cancel()
	}
	for _, j := range devices {
		j.mu.Lock()
		j.cancelled = true
		stopped := j.timer != nil && j.timer.Stop()
		j.mu.Unlock()
		if stopped {
			e.finish(j, streaming.ResultError)
		}
	}
	for _, j := range dropped {
		e.cancelled.Add(1)
		e.finish(j, streaming.ResultError)
	}
	if n := len(dropped) + len(devices); n > 0 || current != nil {
		e.logger.Debug("events stopped", "owner", owner, "queued", len(dropped), "device", len(devices), "in_flight", current != nil)
	}
}

// Close stops the worker. Queued and device events finish with an error.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	queued := e.queue
	e.queue = nil
	current := e.current
	devices := make([]*job, 0, len(e.device))
	for _, j := range e.device {
		devices = append(devices, j)
	}
	e.mu.Unlock()

	if current != nil {
		current.cancel()
	}
	close(e.stop)
	e.wg.Wait()

	for _, j := range devices {
		j.mu.Lock()
		stopped := j.timer != nil && j.timer.Stop()
		j.mu.Unlock()
		if stopped {
			e.finish(j, streaming.ResultError)
		}
	}
	for _, j := range queued {
		e.finish(j, streaming.ResultError)
	}
	e.logger.Info("audio engine closed", "dropped", len(queued))
}

// Stats returns a snapshot.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	queued, device := len(e.queue), len(e.device)
	e.mu.Unlock()
	return Stats{
		Posted:    e.posted.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Cancelled: e.cancelled.Load(),
		Queued:    queued,
		Device:    device,
		Cached:    e.bank.CachedClips(),
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		j := e.next()
		if j == nil {
			return
		}
		e.render(j)
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}
}

// next blocks until a job is queued or the engine closes.
func (e *Engine) next() *job {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil
		}
		if len(e.queue) > 0 {
			j := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.current = j
			e.mu.Unlock()
			return j
		}
		e.mu.Unlock()

		select {
		case <-e.wake:
		case <-e.stop:
			return nil
		}
	}
}

func (e *Engine) render(j *job) {
	clip, err := e.bank.Load(j.req.Event)
	if j.req.Sink == nil {
		e.playOnDevice(j, clip, err)
		return
	}

	sink := j.req.Sink
	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		e.cancelled.Add(1)
		e.finish(j, streaming.ResultError)
		return
	}
	sink.PrepareAudioBuffer()
	j.mu.Unlock()

	if err != nil {
		e.logger.Warn("load clip", "event", j.req.Event, "error", err)
		sink.CloseAudioBuffer()
		e.finish(j, streaming.ResultError)
		return
	}

	var ticker *time.Ticker
	if e.cfg.RealTime {
		ticker = time.NewTicker(e.cfg.FrameDuration())
		defer ticker.Stop()
	}

	volume := j.req.Volume
	chunk := make([]float32, 0, e.cfg.FrameSize)
	result := streaming.ResultCompleted
	for off := 0; off < len(clip.Samples); off += e.cfg.FrameSize {
		if ticker != nil && off > 0 {
			select {
			case <-ticker.C:
			case <-e.stop:
			}
		}
		end := min(off+e.cfg.FrameSize, len(clip.Samples))
		chunk = scale(chunk[:0], clip.Samples[off:end], volume)

		j.mu.Lock()
		if j.cancelled {
			j.mu.Unlock()
			result = streaming.ResultError
			break
		}
		sink.UpdateBuffer(chunk)
		j.mu.Unlock()
	}
	sink.CloseAudioBuffer()

	if result == streaming.ResultError {
		e.cancelled.Add(1)
	}
	e.finish(j, result)
}

func (e *Engine) playOnDevice(j *job, clip *Clip, err error) {
	if err != nil {
		e.logger.Warn("load clip", "event", j.req.Event, "error", err)
		e.finish(j, streaming.ResultError)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancelled {
		e.cancelled.Add(1)
		e.finish(j, streaming.ResultError)
		return
	}

	e.mu.Lock()
	e.device[j.id] = j
	e.mu.Unlock()
	j.timer = time.AfterFunc(clip.Duration(), func() {
		e.finish(j, streaming.ResultCompleted)
	})
}

// finish reports the result once and forgets the job.
func (e *Engine) finish(j *job, result streaming.EventResult) {
	if !j.finished.CompareAndSwap(false, true) {
		return
	}
	e.mu.Lock()
	delete(e.device, j.id)
	e.mu.Unlock()

	if result == streaming.ResultCompleted {
		e.completed.Add(1)
	} else {
		e.failed.Add(1)
	}
	e.logger.Debug("event finished", "event", j.req.Event, "playing_id", j.id, "result", result)
	if j.done != nil {
		j.done(result)
	}
}

func scale(dst, src []float32, volume float32) []float32 {
	if volume == 1 {
		return append(dst, src...)
	}
	for _, v := range src {
		dst = append(dst, v*volume)
	}
	return dst
}
