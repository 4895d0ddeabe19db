package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/voiceloop/voiceloop/pkg/core/live"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.Observe(&live.StateChangedEvent{From: live.StateDisconnected, To: live.StateConnecting})
	m.Observe(&live.StateChangedEvent{From: live.StateConnecting, To: live.StateConnected})
	m.Observe(&live.TranscriptDeltaEvent{Role: live.RoleUser, Delta: "hi"})
	m.Observe(&live.TranscriptDeltaEvent{Role: live.RoleAssistant, Delta: "hello"})
	m.Observe(&live.TranscriptDeltaEvent{Role: live.RoleAssistant, Delta: " there"})
	m.Observe(&live.TurnCompleteEvent{Turn: 1})
	m.Observe(&live.InterruptedEvent{})
	m.Observe(&live.ReconnectScheduledEvent{Attempt: 1})
	m.Observe(&live.CheckpointWrittenEvent{Turn: 5})
	m.Observe(&live.ErrorEvent{Code: "credential_fetch_failed", Message: "boom"})

	if got := testutil.ToFloat64(m.StateChanges.WithLabelValues("CONNECTED")); got != 1 {
		t.Errorf("state changes to CONNECTED = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TranscriptFragments.WithLabelValues("assistant")); got != 2 {
		t.Errorf("assistant fragments = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TurnsCompleted); got != 1 {
		t.Errorf("turns = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Interruptions); got != 1 {
		t.Errorf("interruptions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ReconnectsScheduled); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ConnectionErrors.WithLabelValues("credential_fetch_failed")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}
