package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("VOICELOOP_TOKEN_ENDPOINT", "https://tokens.example/mint")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Character.Name != "nova" {
		t.Errorf("character = %q, want default", cfg.Character.Name)
	}
	if cfg.Audio.CaptureRate != 48000 {
		t.Errorf("capture rate = %d, want default 48000", cfg.Audio.CaptureRate)
	}
	if cfg.Token.Endpoint != "https://tokens.example/mint" {
		t.Errorf("endpoint = %q, want env override", cfg.Token.Endpoint)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
character:
  name: sage
  voice: Puck
token:
  endpoint: https://tokens.example/mint
audio:
  frame_size: 2048
session:
  silence_duration_ms: 500
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Character.Name != "sage" || cfg.Character.Voice != "Puck" {
		t.Errorf("character = %+v", cfg.Character)
	}
	if cfg.Audio.FrameSize != 2048 {
		t.Errorf("frame size = %d, want 2048", cfg.Audio.FrameSize)
	}
	if cfg.Session.SilenceDurationMs != 500 {
		t.Errorf("silence = %d, want 500", cfg.Session.SilenceDurationMs)
	}
	// Untouched sections keep their defaults.
	if cfg.Session.Model != "gemini-2.0-flash-live-001" {
		t.Errorf("model = %q, want default", cfg.Session.Model)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
character:
  name: sage
token:
  endpoint: https://file.example/mint
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VOICELOOP_TOKEN_ENDPOINT", "https://env.example/mint")
	t.Setenv("VOICELOOP_CHARACTER", "lumen")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Token.Endpoint != "https://env.example/mint" {
		t.Errorf("endpoint = %q, want env value", cfg.Token.Endpoint)
	}
	if cfg.Character.Name != "lumen" {
		t.Errorf("character = %q, want env value", cfg.Character.Name)
	}
}

func TestValidate(t *testing.T) {
	base := Default()
	base.Token.Endpoint = "https://tokens.example/mint"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing endpoint", func(c *Config) { c.Token.Endpoint = "" }, true},
		{"missing character", func(c *Config) { c.Character.Name = "" }, true},
		{"missing model", func(c *Config) { c.Session.Model = "" }, true},
		{"zero capture rate", func(c *Config) { c.Audio.CaptureRate = 0 }, true},
		{"zero frame size", func(c *Config) { c.Audio.FrameSize = 0 }, true},
		{"missing db path", func(c *Config) { c.Storage.Path = "" }, true},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("character: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
