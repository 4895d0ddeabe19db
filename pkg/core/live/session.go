package live

import "context"

// Role identifies a transcript speaker.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ServerMessage is one normalized inbound event from the conversational
// service. A message carries any combination of fields; zero values mean
// the field was absent.
type ServerMessage struct {
	// AudioB64 is a base64 frame of 24 kHz little-endian 16-bit PCM.
	AudioB64 string
	// UserText is an input transcription fragment.
	UserText string
	// AssistantText is an output transcription fragment.
	AssistantText string
	// Interrupted signals user barge-in; queued audio is stale.
	Interrupted bool
	// TurnComplete signals the end of a conversation turn.
	TurnComplete bool
}

// SessionHandler receives transport callbacks. Handlers are invoked from the
// transport's read loop and must not block.
type SessionHandler struct {
	// OnOpen fires once the session is established and ready for audio.
	OnOpen func()
	// OnMessage fires for each inbound server message.
	OnMessage func(ServerMessage)
	// OnError fires for transport errors. An error never changes connection
	// state by itself; a fatal one is always followed by OnClose.
	OnError func(error)
	// OnClose fires exactly once when the session ends, with the error that
	// ended it or nil for a clean closure.
	OnClose func(error)
}

// SessionParams carries everything a dialer needs to open one session.
type SessionParams struct {
	Token               string
	Model               string
	Voice               string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
	SilenceDurationMs   int
}

// Session is an open bidirectional stream with the conversational service.
type Session interface {
	// SendRealtimeInput streams one media chunk, typically 16 kHz PCM.
	SendRealtimeInput(mimeType, dataB64 string) error
	// SendClientContent submits a complete text turn.
	SendClientContent(text string) error
	Close() error
}

// Dialer opens sessions. Implementations own the wire protocol.
type Dialer interface {
	Dial(ctx context.Context, params SessionParams, handler SessionHandler) (Session, error)
}

// TokenRequest describes the session an ephemeral credential is minted for.
type TokenRequest struct {
	Character string
	Mode      string
	Flags     map[string]string
}

// TokenSource mints one short-lived credential per session attempt.
type TokenSource interface {
	Token(ctx context.Context, req TokenRequest) (string, error)
}

// Extractor mines durable facts from a finished transcript. Extraction is
// best effort; failures leave the transcript pending for a later attempt.
type Extractor interface {
	Extract(ctx context.Context, character, transcript string) error
}
