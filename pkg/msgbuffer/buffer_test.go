package msgbuffer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-animstream/internal/log"
)

type fakeMessage struct {
	name     string
	size     int
	audio    bool
	released int
}

func (m *fakeMessage) Size() int          { return m.size }
func (m *fakeMessage) IsAudioFrame() bool { return m.audio }
func (m *fakeMessage) Release()           { m.released++ }

// recordingSender records sent messages and can be told to fail.
type recordingSender struct {
	mu     sync.Mutex
	sent   []string
	failOn string
}

func (s *recordingSender) SendMessage(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fm := m.(*fakeMessage)
	if fm.name == s.failOn {
		return errors.New("link down")
	}
	s.sent = append(s.sent, fm.name)
	return nil
}

func (s *recordingSender) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func abc() (a, b, c *fakeMessage) {
	return &fakeMessage{name: "A", size: 100, audio: true},
		&fakeMessage{name: "B", size: 50},
		&fakeMessage{name: "C", size: 200, audio: true}
}

func TestFIFOOrderAndRelease(t *testing.T) {
	buf := New(log.Discard())
	a, b, c := abc()
	buf.BufferMessageToSend(a)
	buf.BufferMessageToSend(b, c)

	sender := &recordingSender{}
	res, err := buf.SendMessages(sender, Unlimited())
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, sender.names())
	assert.Equal(t, 3, res.MessagesSent)
	assert.Equal(t, int32(350), res.BytesSent)
	assert.Equal(t, int32(2), res.AudioFramesSent)
	assert.False(t, res.MoreRemains())
	for _, m := range []*fakeMessage{a, b, c} {
		assert.Equal(t, 1, m.released, m.name)
	}
	assert.Equal(t, Counters{BytesStreamed: 350, AudioFramesStreamed: 2}, buf.Counters())
}

func TestPartialDrain(t *testing.T) {
	buf := New(log.Discard())
	a, b, c := abc()
	buf.BufferMessageToSend(a, b, c)

	sender := &recordingSender{}
	res, err := buf.SendMessages(sender, BytesOnly(120))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, sender.names())
	assert.True(t, res.MoreRemains())
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, 0, b.released)

	res, err = buf.SendMessages(sender, Unlimited())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, sender.names())
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, 1, a.released)
	assert.Equal(t, 1, b.released)
	assert.Equal(t, 1, c.released)
}

func TestAudioFrameBudget(t *testing.T) {
	buf := New(log.Discard())
	a, b, c := abc()
	buf.BufferMessageToSend(a, b, c)

	sender := &recordingSender{}
	res, err := buf.SendMessages(sender, Budget{Bytes: 10_000, AudioFrames: 1})
	require.NoError(t, err)
	// B is not audio so it still fits; C is the second audio frame
	assert.Equal(t, []string{"A", "B"}, sender.names())
	assert.Equal(t, 1, res.Remaining)
}

func TestZeroBudgetSendsNothing(t *testing.T) {
	buf := New(log.Discard())
	a, _, _ := abc()
	buf.BufferMessageToSend(a)

	res, err := buf.SendMessages(&recordingSender{}, BytesOnly(0))
	require.NoError(t, err)
	assert.Equal(t, 0, res.MessagesSent)
	assert.Equal(t, 1, buf.Len())
}

func TestSendFailureKeepsFIFO(t *testing.T) {
	buf := New(log.Discard())
	a, b, c := abc()
	buf.BufferMessageToSend(a, b, c)

	sender := &recordingSender{failOn: "B"}
	res, err := buf.SendMessages(sender, Unlimited())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.Equal(t, 1, res.MessagesSent)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, 0, b.released)

	sender.failOn = ""
	_, err = buf.SendMessages(sender, Unlimited())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, sender.names())
	assert.Equal(t, 1, b.released)
}

func TestCountersWrap(t *testing.T) {
	buf := New(log.Discard())
	buf.counters.BytesStreamed = 2147483600
	buf.BufferMessageToSend(&fakeMessage{name: "A", size: 100})
	_, err := buf.SendMessages(&recordingSender{}, Unlimited())
	require.NoError(t, err)
	assert.Less(t, buf.Counters().BytesStreamed, int32(0))

	buf.ResetCounters()
	assert.Equal(t, Counters{}, buf.Counters())
}

func TestClearReleases(t *testing.T) {
	buf := New(log.Discard())
	a, b, c := abc()
	buf.BufferMessageToSend(a, b, c)
	assert.Equal(t, 350, buf.QueuedBytes())

	buf.Clear()
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 1, a.released)
	assert.Equal(t, 1, c.released)
}

func TestConcurrentBuffering(t *testing.T) {
	buf := New(log.Discard())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf.BufferMessageToSend(&fakeMessage{name: "x", size: 1})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, buf.Len())
}
