// Package metrics exposes Prometheus counters for the voice client. The
// counters are fed from the lifecycle manager's event stream, so enabling
// them costs nothing on the audio path.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voiceloop/voiceloop/pkg/core/live"
)

// Metrics contains all Prometheus metrics for the voice client.
type Metrics struct {
	// Connection metrics
	StateChanges        *prometheus.CounterVec
	ReconnectsScheduled prometheus.Counter
	ConnectionErrors    *prometheus.CounterVec

	// Conversation metrics
	TranscriptFragments *prometheus.CounterVec
	MessagesFlushed     *prometheus.CounterVec
	TurnsCompleted      prometheus.Counter
	Interruptions       prometheus.Counter
	CheckpointsWritten  prometheus.Counter
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		StateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceloop_state_changes_total",
			Help: "Connection state transitions by target state",
		}, []string{"to"}),
		ReconnectsScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceloop_reconnects_scheduled_total",
			Help: "Reconnect attempts scheduled after transport loss",
		}),
		ConnectionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceloop_errors_total",
			Help: "Non-fatal errors by code",
		}, []string{"code"}),
		TranscriptFragments: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceloop_transcript_fragments_total",
			Help: "Transcription fragments received by role",
		}, []string{"role"}),
		MessagesFlushed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceloop_messages_flushed_total",
			Help: "Conversation messages persisted by role",
		}, []string{"role"}),
		TurnsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceloop_turns_completed_total",
			Help: "Completed conversation turns",
		}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceloop_interruptions_total",
			Help: "User barge-ins during assistant speech",
		}),
		CheckpointsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voiceloop_checkpoints_written_total",
			Help: "Transcript durability checkpoints written",
		}),
	}
}

// Observe updates counters from one session event.
func (m *Metrics) Observe(event live.Event) {
	switch e := event.(type) {
	case *live.StateChangedEvent:
		m.StateChanges.WithLabelValues(e.To.String()).Inc()
	case *live.ReconnectScheduledEvent:
		m.ReconnectsScheduled.Inc()
	case *live.ErrorEvent:
		m.ConnectionErrors.WithLabelValues(e.Code).Inc()
	case *live.TranscriptDeltaEvent:
		m.TranscriptFragments.WithLabelValues(string(e.Role)).Inc()
	case *live.MessageFlushedEvent:
		m.MessagesFlushed.WithLabelValues(string(e.Message.Role)).Inc()
	case *live.TurnCompleteEvent:
		m.TurnsCompleted.Inc()
	case *live.InterruptedEvent:
		m.Interruptions.Inc()
	case *live.CheckpointWrittenEvent:
		m.CheckpointsWritten.Inc()
	}
}

// Serve starts the /metrics endpoint on addr. It returns the server so the
// caller can shut it down.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
