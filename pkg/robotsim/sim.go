// Package robotsim is a simulated robot. It connects to the robot link,
// buffers animation messages in a fixed-size receive buffer, plays one audio
// frame per tick and reports its played counters back.
package robotsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-animstream/pkg/audiobuf"
	"github.com/teslashibe/go-animstream/pkg/msgbuffer"
	"github.com/teslashibe/go-animstream/pkg/mulaw"
	"github.com/teslashibe/go-animstream/pkg/protocol"
)

// Config configures a Simulator.
type Config struct {
	URL         string        // Link base, e.g. ws://localhost:8080/ws/robot
	RobotID     string        // Appended to URL
	Firmware    string        // Reported in hello
	Capacity    int           // Receive buffer in bytes
	TickPeriod  time.Duration // Playback rate, one audio frame per tick
	ReportTicks int           // Ticks between robot_state reports
}

// DefaultConfig returns a robot with the real buffer size playing at the
// audio frame rate.
func DefaultConfig() Config {
	return Config{
		URL:         "ws://localhost:8080/ws/robot",
		RobotID:     "sim",
		Firmware:    "robotsim",
		Capacity:    msgbuffer.KeyframeBufferSize,
		TickPeriod:  audiobuf.SampleLengthMs * time.Millisecond,
		ReportTicks: 1,
	}
}

// Stats is what the simulator has received and played.
type Stats struct {
	Received       uint64  `json:"received"`
	Buffered       int     `json:"buffered"`
	BufferedBytes  int     `json:"buffered_bytes"`
	BytesPlayed    uint32  `json:"bytes_played"`
	FramesPlayed   uint32  `json:"frames_played"`
	AudioSamples   uint64  `json:"audio_samples"`
	SilenceFrames  uint64  `json:"silence_frames"`
	Keyframes      uint64  `json:"keyframes"`
	Starts         uint64  `json:"starts"`
	Ends           uint64  `json:"ends"`
	Overflows      uint32  `json:"overflows"`
	AnimTag        uint8   `json:"anim_tag"`
	LastRMS        float64 `json:"last_rms"`
	PeakRMS        float64 `json:"peak_rms"`
	SessionID      string  `json:"session_id,omitempty"`
	DecodeFailures uint64  `json:"decode_failures"`
}

// Simulator is one simulated robot.
type Simulator struct {
	cfg    Config
	logger *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	queue   []*protocol.RobotMessage
	stats   Stats
	samples []float32
}

// New creates a simulator.
func New(cfg Config, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = msgbuffer.KeyframeBufferSize
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = audiobuf.SampleLengthMs * time.Millisecond
	}
	if cfg.ReportTicks <= 0 {
		cfg.ReportTicks = 1
	}
	return &Simulator{
		cfg:    cfg,
		logger: logger.With("component", "robotsim", "robot", cfg.RobotID),
	}
}

// Run connects and plays until ctx is done or the connection drops.
func (s *Simulator) Run(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s", s.cfg.URL, s.cfg.RobotID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	s.conn = conn
	s.logger.Info("connected", "url", url)

	hello, err := protocol.NewHelloMessage(s.cfg.RobotID, s.cfg.Firmware, s.cfg.Capacity)
	if err != nil {
		conn.Close()
		return err
	}
	if err := s.writeControl(hello); err != nil {
		conn.Close()
		return fmt.Errorf("hello: %w", err)
	}

	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop() }()

	ticker := time.NewTicker(s.cfg.TickPeriod)
	defer ticker.Stop()

	var ticks int
	for {
		select {
		case <-ctx.Done():
			s.writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.writeMu.Unlock()
			conn.Close()
			<-readErr
			return nil
		case err := <-readErr:
			conn.Close()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		case <-ticker.C:
			s.Tick()
			ticks++
			if ticks%s.cfg.ReportTicks == 0 {
				if err := s.report(); err != nil {
					s.logger.Warn("report failed", "error", err)
				}
			}
		}
	}
}

func (s *Simulator) readLoop() error {
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		switch typ {
		case websocket.BinaryMessage:
			s.Receive(data)
		case websocket.TextMessage:
			s.handleControl(data)
		}
	}
}

func (s *Simulator) handleControl(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.logger.Warn("bad control message", "error", err)
		return
	}
	switch msg.Type {
	case protocol.TypeWelcome:
		if w, err := msg.GetWelcomeData(); err == nil {
			s.mu.Lock()
			s.stats.SessionID = w.SessionID
			s.mu.Unlock()
			s.logger.Info("welcome", "session", w.SessionID, "sample_rate", w.SampleRate)
		}
	case protocol.TypePing:
		ping, err := msg.GetPingData()
		if err != nil {
			return
		}
		if pong, err := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli()); err == nil {
			_ = s.writeControl(pong)
		}
	}
}

// Receive buffers one binary animation message. Messages that do not fit
// the receive buffer are dropped and counted as overflows.
func (s *Simulator) Receive(data []byte) {
	msg, err := protocol.ParseRobotMessage(data)
	if err != nil {
		s.logger.Warn("bad animation message", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Received++
	if s.stats.BufferedBytes+msg.Size() > s.cfg.Capacity {
		s.stats.Overflows++
		s.logger.Warn("receive buffer overflow", "buffered", s.stats.BufferedBytes, "size", msg.Size())
		return
	}
	s.queue = append(s.queue, msg)
	s.stats.Buffered = len(s.queue)
	s.stats.BufferedBytes += msg.Size()
}

// Tick plays one audio frame and the keyframes that follow it.
func (s *Simulator) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	audioPlayed := false
	for len(s.queue) > 0 {
		msg := s.queue[0]
		if msg.IsAudioFrame() && audioPlayed {
			break
		}
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.stats.BufferedBytes -= msg.Size()
		s.stats.BytesPlayed += uint32(msg.Size())
		if msg.IsAudioFrame() {
			audioPlayed = true
			s.stats.FramesPlayed++
		}
		s.play(msg)
	}
	s.stats.Buffered = len(s.queue)
}

func (s *Simulator) play(msg *protocol.RobotMessage) {
	switch msg.Tag {
	case protocol.TagAudioSample:
		s.stats.AudioSamples++
		pkt, err := protocol.DecodeAudioSample(msg)
		if err != nil {
			s.stats.DecodeFailures++
			return
		}
		s.samples = mulaw.DecodeSamples(s.samples[:0], pkt.Payload)
		s.stats.LastRMS = rms(s.samples)
		s.stats.PeakRMS = math.Max(s.stats.PeakRMS, s.stats.LastRMS)
	case protocol.TagAudioSilence:
		s.stats.SilenceFrames++
		s.stats.LastRMS = 0
	case protocol.TagStartOfAnimation:
		s.stats.Starts++
		if m, err := protocol.Decode[protocol.AnimationMarker](msg, protocol.TagStartOfAnimation); err == nil {
			s.stats.AnimTag = m.AnimTag
		}
	case protocol.TagEndOfAnimation:
		s.stats.Ends++
	default:
		s.stats.Keyframes++
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func (s *Simulator) report() error {
	s.mu.Lock()
	state := protocol.RobotStateData{
		BytesPlayed:       s.stats.BytesPlayed,
		AudioFramesPlayed: s.stats.FramesPlayed,
		AnimTag:           s.stats.AnimTag,
		Overflows:         s.stats.Overflows,
	}
	s.mu.Unlock()

	msg, err := protocol.NewRobotStateMessage(state)
	if err != nil {
		return err
	}
	return s.writeControl(msg)
}

func (s *Simulator) writeControl(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return errors.New("robotsim: not connected")
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Stats returns a snapshot.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
