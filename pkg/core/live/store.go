package live

import "time"

// Message is one persisted conversation turn.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the durable local storage collaborator. All methods key their
// data by character so concurrent personas never collide. Calls are
// synchronous and safe to repeat; the manager treats write failures as
// non-fatal and logs them.
type Store interface {
	// AppendMessage adds one message to the character's conversation log.
	AppendMessage(character string, msg Message) error

	// Memory returns the condensed conversation memory, or "" if none.
	Memory(character string) (string, error)
	SetMemory(character, content string) error

	// PendingTranscript is the transcript awaiting fact extraction.
	PendingTranscript(character string) (string, error)
	SetPendingTranscript(character, content string) error
	ClearPendingTranscript(character string) error

	// Checkpoint is the periodic crash-durability snapshot of the live
	// transcript. It exists only while a session is active.
	Checkpoint(character string) (string, error)
	SetCheckpoint(character, content string) error
	ClearCheckpoint(character string) error
}
