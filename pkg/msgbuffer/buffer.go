package msgbuffer

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Message is an outbound entry. Audio frames are accounted separately.
type Message interface {
	Size() int
	IsAudioFrame() bool
}

// Releaser is implemented by messages holding pooled memory.
type Releaser interface {
	Release()
}

// Sender hands one message to the transport.
type Sender interface {
	SendMessage(Message) error
}

// UnlimitedAudioFrames disables the audio frame gate of a Budget.
const UnlimitedAudioFrames int32 = math.MaxInt32

// Budget limits one SendMessages call.
type Budget struct {
	Bytes       int32
	AudioFrames int32
}

// BytesOnly returns a budget without an audio frame limit.
func BytesOnly(bytes int32) Budget {
	return Budget{Bytes: bytes, AudioFrames: UnlimitedAudioFrames}
}

// Unlimited returns a budget that drains everything.
func Unlimited() Budget {
	return Budget{Bytes: math.MaxInt32, AudioFrames: UnlimitedAudioFrames}
}

// SendResult reports what one SendMessages call did.
type SendResult struct {
	BytesSent       int32
	AudioFramesSent int32
	MessagesSent    int
	Remaining       int // messages left queued
}

// MoreRemains reports whether the budget ran out before the queue did.
func (r SendResult) MoreRemains() bool {
	return r.Remaining > 0
}

// Counters are the cumulative totals handed to the transport.
// They wrap like the robot's own counters.
type Counters struct {
	BytesStreamed       int32
	AudioFramesStreamed int32
}

// Buffer is the outbound FIFO.
type Buffer struct {
	logger *slog.Logger

	mu       sync.Mutex
	queue    []Message
	counters Counters

	sendMu sync.Mutex
}

// New creates an empty buffer.
func New(logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{logger: logger.With("component", "msgbuffer")}
}

// BufferMessageToSend appends msgs in order. Nothing is sent.
func (b *Buffer) BufferMessageToSend(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	b.queue = append(b.queue, msgs...)
	b.mu.Unlock()
}

// SendMessages drains the FIFO in order while the next message fits the
// byte budget and, for audio frames, the audio frame budget. Each message is
// released after a successful send. A transport error stops the call; the
// failing message stays at the front.
func (b *Buffer) SendMessages(sender Sender, budget Budget) (SendResult, error) {
	// one drain at a time so the front cannot be sent twice
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	var res SendResult
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			break
		}
		msg := b.queue[0]
		b.mu.Unlock()

		size := int32(msg.Size())
		if res.BytesSent+size > budget.Bytes {
			break
		}
		audio := msg.IsAudioFrame()
		if audio && res.AudioFramesSent >= budget.AudioFrames {
			break
		}

		if err := sender.SendMessage(msg); err != nil {
			res.Remaining = b.Len()
			b.logger.Warn("send failed", "error", err, "sent", res.MessagesSent, "remaining", res.Remaining)
			return res, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}

		b.mu.Lock()
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.counters.BytesStreamed += size
		if audio {
			b.counters.AudioFramesStreamed++
		}
		b.mu.Unlock()

		res.BytesSent += size
		if audio {
			res.AudioFramesSent++
		}
		res.MessagesSent++

		if r, ok := msg.(Releaser); ok {
			r.Release()
		}
	}

	res.Remaining = b.Len()
	return res, nil
}

// Len returns the number of queued messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// QueuedBytes returns the total size of queued messages.
func (b *Buffer) QueuedBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.queue {
		n += m.Size()
	}
	return n
}

// Counters returns the streamed totals.
func (b *Buffer) Counters() Counters {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}

// ResetCounters zeroes the streamed totals, for a new robot connection.
func (b *Buffer) ResetCounters() {
	b.mu.Lock()
	b.counters = Counters{}
	b.mu.Unlock()
}

// Clear drops and releases every queued message. It waits for an
// in-progress SendMessages to return.
func (b *Buffer) Clear() {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	queue := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, m := range queue {
		if r, ok := m.(Releaser); ok {
			r.Release()
		}
	}
}
