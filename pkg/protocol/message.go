// Package protocol defines the messages exchanged between the animation
// engine and the robot.
//
// Two kinds travel over the same websocket:
//   - binary RobotMessages carrying one animation track entry each
//     (see robot.go), paced by the engine's flow control
//   - JSON control envelopes (this file) such as robot_state reports
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of control message
type MessageType string

const (
	// Robot → Engine messages
	TypeHello      MessageType = "hello"       // Sent once after connecting
	TypeRobotState MessageType = "robot_state" // Playback counters

	// Engine → Robot messages
	TypeWelcome MessageType = "welcome" // Accepts the hello

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the control channel envelope
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: %w", ErrMissingType)
	}
	return &msg, nil
}

// HelloData introduces the robot
type HelloData struct {
	RobotID        string `json:"robot_id"`
	Firmware       string `json:"firmware,omitempty"`
	BufferCapacity int    `json:"buffer_capacity"` // Receive buffer in bytes
}

// WelcomeData answers a hello
type WelcomeData struct {
	SessionID    string `json:"session_id"`
	SampleRate   int    `json:"sample_rate"`
	SampleLength int    `json:"sample_length_ms"`
}

// RobotStateData reports how much of the stream the robot has consumed.
// Counters are cumulative since the connection opened and wrap at 2^32.
type RobotStateData struct {
	BytesPlayed       uint32 `json:"bytes_played"`
	AudioFramesPlayed uint32 `json:"audio_frames_played"`
	AnimTag           uint8  `json:"anim_tag,omitempty"` // Tag of the animation being played
	Overflows         uint32 `json:"overflows,omitempty"`
}

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}

// NewHelloMessage creates a hello message
func NewHelloMessage(robotID, firmware string, capacity int) (*Message, error) {
	return NewMessage(TypeHello, HelloData{
		RobotID:        robotID,
		Firmware:       firmware,
		BufferCapacity: capacity,
	})
}

// NewWelcomeMessage creates a welcome message
func NewWelcomeMessage(sessionID string, sampleRate, sampleLengthMs int) (*Message, error) {
	return NewMessage(TypeWelcome, WelcomeData{
		SessionID:    sessionID,
		SampleRate:   sampleRate,
		SampleLength: sampleLengthMs,
	})
}

// NewRobotStateMessage creates a robot_state message
func NewRobotStateMessage(state RobotStateData) (*Message, error) {
	return NewMessage(TypeRobotState, state)
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// GetHelloData extracts hello data from a message
func (m *Message) GetHelloData() (*HelloData, error) {
	var data HelloData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetWelcomeData extracts welcome data from a message
func (m *Message) GetWelcomeData() (*WelcomeData, error) {
	var data WelcomeData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetRobotState extracts robot state from a message
func (m *Message) GetRobotState() (*RobotStateData, error) {
	var data RobotStateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
