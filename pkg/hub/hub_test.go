package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teslashibe/go-animstream/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("status", map[string]int{"ticks": 3})
	require.NoError(t, err)
	assert.Equal(t, "status", msg.Kind)
	assert.JSONEq(t, `{"ticks":3}`, string(msg.Data))

	_, err = NewMessage("bad", func() {})
	assert.Error(t, err)
}

func TestBroadcastDropsWhenBackedUp(t *testing.T) {
	h := New("test", log.Discard())
	for range 300 {
		require.NoError(t, h.BroadcastJSON("status", 1))
	}
	assert.EqualValues(t, 300-256, h.Dropped())
}

func TestRunStopsWithContext(t *testing.T) {
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, h.IsRunning, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.ClientCount())

	cancel()
	<-stopped
	assert.False(t, h.IsRunning())

	// Registering with a stopped hub closes the client right away.
	c := NewClient(h, nil)
	_, ok := <-c.send
	assert.False(t, ok)
}

func TestClientReceivesInitialMessages(t *testing.T) {
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	first, err := NewMessage("status", 1)
	require.NoError(t, err)
	c := NewClient(h, nil, first)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.BroadcastJSON("animation", "wave"))
	assert.Equal(t, "status", (<-c.send).Kind)
	assert.Equal(t, "animation", (<-c.send).Kind)

	cancel()
	<-stopped
	_, ok := <-c.send
	assert.False(t, ok)
}
