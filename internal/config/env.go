package config

import (
	"os"
	"strings"
)

// Environment variables read by ApplyEnv and the commands.
const (
	EnvPort          = "ANIMSTREAM_PORT"
	EnvURL           = "ANIMSTREAM_URL"
	EnvSoundBankDir  = "SOUND_BANK_DIR"
	EnvAnimationsDir = "ANIMATIONS_DIR"
	EnvLogLevel      = "LOG_LEVEL"
)

// Default listen port.
const DefaultPort = "8080"

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Port returns the listen port from ANIMSTREAM_PORT.
// Falls back to the provided default if not set.
func Port(def string) string {
	return envOr(EnvPort, def)
}

// LinkURL returns the robot link websocket base for the simulator, from
// ANIMSTREAM_URL or built from the port.
func LinkURL(port string) string {
	return envOr(EnvURL, "ws://localhost:"+port+"/ws/robot")
}

// SoundBankDir returns the sound bank directory from SOUND_BANK_DIR.
func SoundBankDir(def string) string {
	return envOr(EnvSoundBankDir, def)
}

// AnimationsDir returns the extra animations directory from ANIMATIONS_DIR.
func AnimationsDir(def string) string {
	return envOr(EnvAnimationsDir, def)
}

// LogLevel returns the log level from LOG_LEVEL.
func LogLevel(def string) string {
	return envOr(EnvLogLevel, def)
}
