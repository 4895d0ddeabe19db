// Package config loads the client configuration from YAML with environment
// variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Character  CharacterConfig  `yaml:"character"`
	Session    SessionConfig    `yaml:"session"`
	Token      TokenConfig      `yaml:"token"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Audio      AudioConfig      `yaml:"audio"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Debug      bool             `yaml:"debug"`
}

// CharacterConfig selects the persona.
type CharacterConfig struct {
	Name         string            `yaml:"name"`
	Voice        string            `yaml:"voice"`
	SystemPrompt string            `yaml:"system_prompt"`
	Flags        map[string]string `yaml:"flags"`
}

// SessionConfig tunes the live session.
type SessionConfig struct {
	Model               string `yaml:"model"`
	InputTranscription  bool   `yaml:"input_transcription"`
	OutputTranscription bool   `yaml:"output_transcription"`
	SilenceDurationMs   int    `yaml:"silence_duration_ms"`
}

// TokenConfig points at the credential endpoint.
type TokenConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// ExtractionConfig points at the optional fact-extraction endpoint.
// Leaving the endpoint empty disables extraction.
type ExtractionConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// AudioConfig tunes the device pipelines.
type AudioConfig struct {
	CaptureRate      int  `yaml:"capture_rate"`
	FrameSize        int  `yaml:"frame_size"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Character: CharacterConfig{
			Name:  "nova",
			Voice: "Aoede",
		},
		Session: SessionConfig{
			Model:               "gemini-2.0-flash-live-001",
			InputTranscription:  true,
			OutputTranscription: true,
			SilenceDurationMs:   800,
		},
		Audio: AudioConfig{
			CaptureRate:      48000,
			FrameSize:        4096,
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
		},
		Storage: StorageConfig{
			Path: "voiceloop.db",
		},
		Metrics: MetricsConfig{
			Addr: ":9109",
		},
	}
}

// Load reads path, applies it over the defaults, applies environment
// overrides, and validates the result. A missing file is not an error; the
// defaults plus environment are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config %q: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VOICELOOP_TOKEN_ENDPOINT"); v != "" {
		cfg.Token.Endpoint = v
	}
	if v := os.Getenv("VOICELOOP_CHARACTER"); v != "" {
		cfg.Character.Name = v
	}
	if v := os.Getenv("VOICELOOP_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if os.Getenv("VOICELOOP_DEBUG") == "1" {
		cfg.Debug = true
	}
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if c.Token.Endpoint == "" {
		return fmt.Errorf("token.endpoint is required (or set VOICELOOP_TOKEN_ENDPOINT)")
	}
	if c.Character.Name == "" {
		return fmt.Errorf("character.name is required")
	}
	if c.Session.Model == "" {
		return fmt.Errorf("session.model is required")
	}
	if c.Audio.CaptureRate <= 0 {
		return fmt.Errorf("audio.capture_rate must be positive, got %d", c.Audio.CaptureRate)
	}
	if c.Audio.FrameSize <= 0 {
		return fmt.Errorf("audio.frame_size must be positive, got %d", c.Audio.FrameSize)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}
