package live

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transcript accumulates streamed transcription fragments into per-role
// buffers and flushes them as complete messages. Buffers carry raw fragment
// text; trimming happens once, at flush time. All methods are safe for
// concurrent use.
type Transcript struct {
	mu        sync.Mutex
	user      strings.Builder
	assistant strings.Builder
	completed int
}

// NewTranscript returns an empty accumulator.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds a fragment to the buffer for role. Unknown roles are ignored.
func (t *Transcript) Append(role Role, delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch role {
	case RoleUser:
		t.user.WriteString(delta)
	case RoleAssistant:
		t.assistant.WriteString(delta)
	}
}

// FlushTurn flushes both buffers, user first, counts one completed turn,
// and returns the resulting messages in flush order. Buffers that trim to
// empty produce no message. The read-and-clear is atomic: a fragment
// appended during the flush lands in the next turn, never in both.
func (t *Transcript) FlushTurn() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.flushLocked(RoleUser)
	out = append(out, t.flushLocked(RoleAssistant)...)
	t.completed++
	return out
}

// FlushAssistant flushes only the assistant buffer. Used on barge-in, where
// the user's fragments belong to the utterance still in progress.
func (t *Transcript) FlushAssistant() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked(RoleAssistant)
}

// FlushAll drains both buffers without counting a turn. Used on teardown,
// where leftover fragments become synthetic messages.
func (t *Transcript) FlushAll() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.flushLocked(RoleUser)
	return append(out, t.flushLocked(RoleAssistant)...)
}

func (t *Transcript) flushLocked(role Role) []Message {
	var b *strings.Builder
	switch role {
	case RoleUser:
		b = &t.user
	case RoleAssistant:
		b = &t.assistant
	default:
		return nil
	}
	content := strings.TrimSpace(b.String())
	b.Reset()
	if content == "" {
		return nil
	}
	return []Message{{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}}
}

// CompletedTurns reports how many turns FlushTurn has counted.
func (t *Transcript) CompletedTurns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Peek returns the trimmed unflushed content of both buffers without
// clearing them. Used when checkpointing mid-utterance.
func (t *Transcript) Peek() (user, assistant string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.user.String()), strings.TrimSpace(t.assistant.String())
}

// Pending reports whether either buffer holds unflushed fragments.
func (t *Transcript) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(t.user.String()) != "" ||
		strings.TrimSpace(t.assistant.String()) != ""
}

// Reset clears both buffers and the turn counter.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.user.Reset()
	t.assistant.Reset()
	t.completed = 0
}

// RenderMessages serializes messages as "role: content" lines, the format
// used for checkpoints, pending transcripts, and condensed memory.
func RenderMessages(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
