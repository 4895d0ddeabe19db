package live

import "time"

// ConnectionState represents the lifecycle state of the conversation
// connection.
type ConnectionState int

const (
	// StateDisconnected is the rest state: no session, no retry pending.
	StateDisconnected ConnectionState = iota
	// StateConnecting is a fresh session being established.
	StateConnecting
	// StateConnected is an open session with audio flowing.
	StateConnected
	// StateReconnecting is an automatic retry in progress or scheduled.
	StateReconnecting
	// StateError is a terminal failure; only a manual Connect leaves it.
	StateError
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const (
	// maxReconnectAttempts is the retry budget per connection run.
	maxReconnectAttempts = 3
	// reconnectBaseDelay is doubled per attempt: 1s, 2s, 4s.
	reconnectBaseDelay = time.Second
	// checkpointInterval is the completed-turn period for durability
	// checkpoints.
	checkpointInterval = 5
	// modeSwitchDelay debounces rapid mode toggles before reconnecting.
	modeSwitchDelay = 300 * time.Millisecond
	// memoryTurns is how many trailing messages feed the condensed memory.
	memoryTurns = 12
)

// SessionConfig holds all configuration for a conversation session.
type SessionConfig struct {
	// Character identifies the persona; it keys all persisted state.
	Character string `json:"character"`

	// Model is the conversational audio model.
	Model string `json:"model"`

	// Voice selects the prebuilt synthesis voice.
	Voice string `json:"voice"`

	// SystemInstruction is the persona prompt sent at session setup.
	SystemInstruction string `json:"system_instruction,omitempty"`

	// InputTranscription requests user speech transcripts from the service.
	InputTranscription bool `json:"input_transcription"`

	// OutputTranscription requests assistant speech transcripts.
	OutputTranscription bool `json:"output_transcription"`

	// SilenceDurationMs tunes the service-side end-of-speech detector.
	SilenceDurationMs int `json:"silence_duration_ms"`

	// Flags are opaque content-shaping switches forwarded to the credential
	// endpoint; the core never interprets them.
	Flags map[string]string `json:"flags,omitempty"`
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Character:           "default",
		Model:               "gemini-2.0-flash-live-001",
		Voice:               "Aoede",
		InputTranscription:  true,
		OutputTranscription: true,
		SilenceDurationMs:   800,
	}
}
