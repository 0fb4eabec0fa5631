// Package robotlink serves the websocket the robot connects to. Animation
// frames go out as binary messages; the robot answers with JSON control
// messages reporting how much it has played.
package robotlink

import (
	"encoding"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-animstream/pkg/audiobuf"
	"github.com/teslashibe/go-animstream/pkg/metrics"
	"github.com/teslashibe/go-animstream/pkg/msgbuffer"
	"github.com/teslashibe/go-animstream/pkg/protocol"
)

// Config holds link settings.
type Config struct {
	WriteTimeoutMs int `yaml:"write_timeout_ms" json:"write_timeout_ms"`
}

// DefaultConfig returns the link defaults.
func DefaultConfig() Config {
	return Config{WriteTimeoutMs: 1000}
}

// robotConn is the attached robot.
type robotConn struct {
	id        string
	session   uint64
	sessionID string
	conn      *websocket.Conn
	connected time.Time

	mu       sync.Mutex // guards writes and the fields below
	closed   bool
	dropping bool
	lastSeen time.Time
	firmware string
	capacity int
}

func (r *robotConn) write(messageType int, data []byte, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// the handler returned and the websocket was released
	if r.closed {
		return ErrNotConnected
	}
	if timeout > 0 {
		_ = r.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return r.conn.WriteMessage(messageType, data)
}

// Link accepts one robot at a time.
type Link struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.StreamerMetrics

	mu      sync.RWMutex
	robot   *robotConn
	onState func(robotID string, state *protocol.RobotStateData)

	session      atomic.Uint64
	playedBytes  atomic.Int32
	playedFrames atomic.Int32
	animTag      atomic.Uint32
	overflows    atomic.Uint32

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	bytesSent        atomic.Uint64
	rejected         atomic.Uint64
}

// New creates a link with no robot attached.
func New(cfg Config, m *metrics.StreamerMetrics, logger *slog.Logger) *Link {
	if logger == nil {
		logger = slog.Default()
	}
	return &Link{
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "robotlink"),
	}
}

// OnState sets the callback for robot state reports.
func (l *Link) OnState(callback func(robotID string, state *protocol.RobotStateData)) {
	l.mu.Lock()
	l.onState = callback
	l.mu.Unlock()
}

// RegisterRoutes registers the robot websocket on app.
func (l *Link) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/robot", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/robot/:id", websocket.New(l.handleRobot))
}

func (l *Link) handleRobot(c *websocket.Conn) {
	robotID := c.Params("id")

	l.mu.Lock()
	if l.robot != nil {
		current := l.robot.id
		l.mu.Unlock()
		l.rejected.Add(1)
		l.logger.Warn("robot refused, another is connected", "robot", robotID, "connected", current)
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "robot already connected"))
		return
	}
	now := time.Now()
	robot := &robotConn{
		id:        robotID,
		session:   l.session.Add(1),
		sessionID: uuid.NewString(),
		conn:      c,
		connected: now,
		lastSeen:  now,
	}
	l.playedBytes.Store(0)
	l.playedFrames.Store(0)
	l.overflows.Store(0)
	l.animTag.Store(0)
	l.robot = robot
	l.mu.Unlock()

	l.metrics.SetRobotConnected(true)
	l.logger.Info("robot connected", "robot", robotID, "session", robot.session)

	defer func() {
		l.mu.Lock()
		if l.robot == robot {
			l.robot = nil
		}
		l.mu.Unlock()
		robot.mu.Lock()
		robot.closed = true
		robot.mu.Unlock()
		l.metrics.SetRobotConnected(false)
		l.logger.Info("robot disconnected", "robot", robotID, "session", robot.session)
	}()

	if err := l.sendControl(robot, func() (*protocol.Message, error) {
		return protocol.NewWelcomeMessage(robot.sessionID, audiobuf.SampleRate, audiobuf.SampleLengthMs)
	}); err != nil {
		l.logger.Warn("welcome failed", "robot", robotID, "error", err)
		return
	}

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			robot.mu.Lock()
			dropping := robot.dropping
			robot.mu.Unlock()
			if !dropping && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.logger.Warn("robot read error", "robot", robotID, "error", err)
			}
			return
		}

		robot.mu.Lock()
		robot.lastSeen = time.Now()
		robot.mu.Unlock()
		l.messagesReceived.Add(1)

		if messageType != websocket.TextMessage {
			l.logger.Debug("ignoring non-text message", "robot", robotID, "type", messageType)
			continue
		}
		l.handleMessage(robot, data)
	}
}

func (l *Link) handleMessage(robot *robotConn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		l.logger.Warn("parse error", "robot", robot.id, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeHello:
		hello, err := msg.GetHelloData()
		if err != nil {
			l.logger.Warn("bad hello", "robot", robot.id, "error", err)
			return
		}
		robot.mu.Lock()
		robot.firmware = hello.Firmware
		robot.capacity = hello.BufferCapacity
		robot.mu.Unlock()
		l.logger.Info("robot hello", "robot", robot.id, "firmware", hello.Firmware, "capacity", hello.BufferCapacity)

	case protocol.TypeRobotState:
		state, err := msg.GetRobotState()
		if err != nil {
			l.logger.Warn("bad robot state", "robot", robot.id, "error", err)
			return
		}
		l.recordState(robot, state)

	case protocol.TypePing:
		ping, _ := msg.GetPingData()
		id := ""
		if ping != nil {
			id = ping.ID
		}
		if err := l.sendControl(robot, func() (*protocol.Message, error) {
			return protocol.NewPongMessage(id, msg.Timestamp, time.Now().UnixMilli())
		}); err != nil {
			l.logger.Warn("pong failed", "robot", robot.id, "error", err)
		}

	case protocol.TypePong:
		if pong, err := msg.GetPongData(); err == nil {
			l.logger.Debug("pong", "robot", robot.id, "latency_ms", time.Now().UnixMilli()-pong.PingTS)
		}

	default:
		l.logger.Debug("unhandled message", "robot", robot.id, "type", msg.Type)
	}
}

// recordState stores the robot's counters. They are uint32 on the wire and
// compared with int32 wrap arithmetic by the flow control.
func (l *Link) recordState(robot *robotConn, state *protocol.RobotStateData) {
	l.playedBytes.Store(int32(state.BytesPlayed))
	l.playedFrames.Store(int32(state.AudioFramesPlayed))
	l.animTag.Store(uint32(state.AnimTag))
	prev := l.overflows.Swap(state.Overflows)
	var fresh uint32
	if state.Overflows > prev {
		fresh = state.Overflows - prev
		l.logger.Warn("robot receive buffer overflowed", "robot", robot.id, "overflows", state.Overflows)
	}
	l.metrics.RecordRobotReport(time.Now(), fresh)

	l.mu.RLock()
	cb := l.onState
	l.mu.RUnlock()
	if cb != nil {
		cb(robot.id, state)
	}
}

func (l *Link) sendControl(robot *robotConn, build func() (*protocol.Message, error)) error {
	msg, err := build()
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return robot.write(websocket.TextMessage, data, l.writeTimeout())
}

func (l *Link) writeTimeout() time.Duration {
	return time.Duration(l.cfg.WriteTimeoutMs) * time.Millisecond
}

func (l *Link) current() *robotConn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.robot
}

// SendMessage writes one animation message as a binary websocket message.
func (l *Link) SendMessage(m msgbuffer.Message) error {
	robot := l.current()
	if robot == nil {
		return ErrNotConnected
	}
	bm, ok := m.(encoding.BinaryMarshaler)
	if !ok {
		return fmt.Errorf("%T: %w", m, ErrNotBinary)
	}
	data, err := bm.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := robot.write(websocket.BinaryMessage, data, l.writeTimeout()); err != nil {
		return fmt.Errorf("send to %s: %w", robot.id, err)
	}
	l.messagesSent.Add(1)
	l.bytesSent.Add(uint64(len(data)))
	return nil
}

// Connected reports whether a robot is attached.
func (l *Link) Connected() bool { return l.current() != nil }

// Session returns the id of the latest connection; 0 before the first.
func (l *Link) Session() uint64 { return l.session.Load() }

// PlayedCounters returns the robot's reported totals.
func (l *Link) PlayedCounters() (bytes, audioFrames int32) {
	return l.playedBytes.Load(), l.playedFrames.Load()
}

// Disconnect closes the current robot connection, if any. The handler's read
// is expired so a robot that never answers the close frame is dropped too.
func (l *Link) Disconnect() {
	robot := l.current()
	if robot == nil {
		return
	}
	_ = robot.write(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), l.writeTimeout())
	robot.mu.Lock()
	if !robot.closed {
		robot.dropping = true
		// closing a hijacked conn does not unblock a pending read
		_ = robot.conn.SetReadDeadline(time.Now())
		_ = robot.conn.Close()
	}
	robot.mu.Unlock()
}

// RobotInfo describes the attached robot.
type RobotInfo struct {
	ID        string    `json:"id"`
	Session   uint64    `json:"session"`
	SessionID string    `json:"session_id"`
	Firmware  string    `json:"firmware,omitempty"`
	Capacity  int       `json:"buffer_capacity,omitempty"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	AnimTag   uint8     `json:"anim_tag"`
}

// Info returns the attached robot, or nil.
func (l *Link) Info() *RobotInfo {
	robot := l.current()
	if robot == nil {
		return nil
	}
	robot.mu.Lock()
	defer robot.mu.Unlock()
	return &RobotInfo{
		ID:        robot.id,
		Session:   robot.session,
		SessionID: robot.sessionID,
		Firmware:  robot.firmware,
		Capacity:  robot.capacity,
		Connected: robot.connected,
		LastSeen:  robot.lastSeen,
		AnimTag:   uint8(l.animTag.Load()),
	}
}

// Stats contains link statistics.
type Stats struct {
	Connected         bool   `json:"connected"`
	Session           uint64 `json:"session"`
	MessagesReceived  uint64 `json:"messages_received"`
	MessagesSent      uint64 `json:"messages_sent"`
	BytesSent         uint64 `json:"bytes_sent"`
	Rejected          uint64 `json:"rejected"`
	BytesPlayed       int32  `json:"bytes_played"`
	AudioFramesPlayed int32  `json:"audio_frames_played"`
	Overflows         uint32 `json:"overflows"`
}

// GetStats returns link statistics.
func (l *Link) GetStats() Stats {
	bytes, frames := l.PlayedCounters()
	return Stats{
		Connected:         l.Connected(),
		Session:           l.Session(),
		MessagesReceived:  l.messagesReceived.Load(),
		MessagesSent:      l.messagesSent.Load(),
		BytesSent:         l.bytesSent.Load(),
		Rejected:          l.rejected.Load(),
		BytesPlayed:       bytes,
		AudioFramesPlayed: frames,
		Overflows:         l.overflows.Load(),
	}
}

// RegisterAPIRoutes registers robot info routes.
func (l *Link) RegisterAPIRoutes(api fiber.Router) {
	robot := api.Group("/robot")

	robot.Get("/", func(c *fiber.Ctx) error {
		info := l.Info()
		if info == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ErrNotConnected.Error()})
		}
		return c.JSON(info)
	})

	robot.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(l.GetStats())
	})
}
