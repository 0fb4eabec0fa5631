// Package config loads the animstream configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-animstream/pkg/audioengine"
	"github.com/teslashibe/go-animstream/pkg/robotlink"
	"github.com/teslashibe/go-animstream/pkg/streamer"
)

// ServerConfig is the dashboard and robot link listener.
type ServerConfig struct {
	Port             string `yaml:"port" json:"port"`
	StaticDir        string `yaml:"static_dir" json:"static_dir"`
	StatusIntervalMs int    `yaml:"status_interval_ms" json:"status_interval_ms"`
}

// AnimationsConfig selects where animations come from.
type AnimationsConfig struct {
	BuiltIn bool   `yaml:"built_in" json:"built_in"` // Load the embedded set
	Dir     string `yaml:"dir" json:"dir"`           // Extra *.json animations
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Config is the whole configuration file.
type Config struct {
	Server      ServerConfig       `yaml:"server" json:"server"`
	Streamer    streamer.Config    `yaml:"streamer" json:"streamer"`
	Link        robotlink.Config   `yaml:"link" json:"link"`
	AudioEngine audioengine.Config `yaml:"audio_engine" json:"audio_engine"`
	Animations  AnimationsConfig   `yaml:"animations" json:"animations"`
	Log         LogConfig          `yaml:"log" json:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:             DefaultPort,
			StatusIntervalMs: 1000,
		},
		Streamer:    streamer.DefaultConfig(),
		Link:        robotlink.DefaultConfig(),
		AudioEngine: audioengine.DefaultConfig(),
		Animations:  AnimationsConfig{BuiltIn: true},
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv() {
	c.Server.Port = Port(c.Server.Port)
	c.AudioEngine.SoundBankDir = SoundBankDir(c.AudioEngine.SoundBankDir)
	c.Animations.Dir = AnimationsDir(c.Animations.Dir)
	c.Log.Level = LogLevel(c.Log.Level)
}

// Validate checks every section.
func (c Config) Validate() error {
	if n, err := strconv.Atoi(c.Server.Port); err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("server.port: invalid port %q", c.Server.Port)
	}
	if c.Server.StatusIntervalMs <= 0 {
		return fmt.Errorf("server.status_interval_ms must be positive: %d", c.Server.StatusIntervalMs)
	}
	if err := c.Streamer.Validate(); err != nil {
		return fmt.Errorf("streamer: %w", err)
	}
	if c.Link.WriteTimeoutMs <= 0 {
		return fmt.Errorf("link.write_timeout_ms must be positive: %d", c.Link.WriteTimeoutMs)
	}
	if err := c.AudioEngine.Validate(); err != nil {
		return fmt.Errorf("audio_engine: %w", err)
	}
	if !c.Animations.BuiltIn && c.Animations.Dir == "" {
		return errors.New("animations: enable built_in or set dir")
	}
	return nil
}

// Addr is the listen address for the server port.
func (c Config) Addr() string {
	return ":" + c.Server.Port
}

// StatusInterval is the dashboard status broadcast period.
func (c Config) StatusInterval() time.Duration {
	return time.Duration(c.Server.StatusIntervalMs) * time.Millisecond
}
