package live

import "time"

// Event is the interface for all session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when the connection state changes.
type StateChangedEvent struct {
	From ConnectionState `json:"from"`
	To   ConnectionState `json:"to"`
	// Err carries the failure message when To is the error state.
	Err string `json:"err,omitempty"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// TranscriptDeltaEvent is emitted as transcription fragments arrive.
type TranscriptDeltaEvent struct {
	Role  Role   `json:"role"`
	Delta string `json:"delta"`
}

func (e *TranscriptDeltaEvent) EventType() string { return "transcript.delta" }

// MessageFlushedEvent is emitted when an accumulated utterance is persisted
// as a conversation message.
type MessageFlushedEvent struct {
	Message Message `json:"message"`
}

func (e *MessageFlushedEvent) EventType() string { return "message.flushed" }

// TurnCompleteEvent is emitted when the service signals end of turn.
type TurnCompleteEvent struct {
	Turn int `json:"turn"`
}

func (e *TurnCompleteEvent) EventType() string { return "turn.complete" }

// InterruptedEvent is emitted on barge-in, after playback has been cleared.
type InterruptedEvent struct{}

func (e *InterruptedEvent) EventType() string { return "interrupted" }

// ReconnectScheduledEvent is emitted when a retry timer is armed.
type ReconnectScheduledEvent struct {
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
}

func (e *ReconnectScheduledEvent) EventType() string { return "reconnect.scheduled" }

// CheckpointWrittenEvent is emitted after a durability checkpoint lands.
type CheckpointWrittenEvent struct {
	Turn int `json:"turn"`
}

func (e *CheckpointWrittenEvent) EventType() string { return "checkpoint.written" }

// ErrorEvent is emitted when a non-fatal error occurs.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// DebugEvent is emitted for debugging information.
type DebugEvent struct {
	Category string `json:"category"` // CONN, AUDIO, TRANSCRIPT, STORE, EXTRACT
	Message  string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }
