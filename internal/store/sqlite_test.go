package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/voiceloop/voiceloop/pkg/core/live"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Messages(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	for i, content := range []string{"one", "two", "three"} {
		err := s.AppendMessage("nova", live.Message{
			ID:        uuid.NewString(),
			Role:      live.RoleUser,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}
	// A different character must not leak in.
	_ = s.AppendMessage("sage", live.Message{
		ID: uuid.NewString(), Role: live.RoleUser, Content: "other", Timestamp: base,
	})

	msgs, err := s.RecentMessages("nova", 2)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Content != "two" || msgs[1].Content != "three" {
		t.Errorf("messages = %q, %q; want chronological tail", msgs[0].Content, msgs[1].Content)
	}

	all, err := s.RecentMessages("nova", 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len = %d, want 3", len(all))
	}
}

func TestStore_Slots(t *testing.T) {
	s := openTestStore(t)

	slots := []struct {
		name  string
		get   func(string) (string, error)
		set   func(string, string) error
		clear func(string) error
	}{
		{"memory", s.Memory, s.SetMemory, nil},
		{"pending", s.PendingTranscript, s.SetPendingTranscript, s.ClearPendingTranscript},
		{"checkpoint", s.Checkpoint, s.SetCheckpoint, s.ClearCheckpoint},
	}

	for _, slot := range slots {
		t.Run(slot.name, func(t *testing.T) {
			got, err := slot.get("nova")
			if err != nil {
				t.Fatalf("get empty: %v", err)
			}
			if got != "" {
				t.Errorf("empty slot = %q, want \"\"", got)
			}

			if err := slot.set("nova", "first"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := slot.set("nova", "second"); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			got, err = slot.get("nova")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got != "second" {
				t.Errorf("slot = %q, want upserted value", got)
			}

			// Other characters stay isolated.
			if other, _ := slot.get("sage"); other != "" {
				t.Errorf("cross-character leak: %q", other)
			}

			if slot.clear != nil {
				if err := slot.clear("nova"); err != nil {
					t.Fatalf("clear: %v", err)
				}
				if got, _ := slot.get("nova"); got != "" {
					t.Errorf("slot = %q after clear, want \"\"", got)
				}
				// Clearing an empty slot is fine.
				if err := slot.clear("nova"); err != nil {
					t.Errorf("redundant clear: %v", err)
				}
			}
		})
	}
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetCheckpoint("nova", "user: survives restarts"); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Checkpoint("nova")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if got != "user: survives restarts" {
		t.Errorf("checkpoint = %q after reopen", got)
	}
}
