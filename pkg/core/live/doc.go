// Package live implements the connection lifecycle for real-time voice
// conversations: credential acquisition, session establishment over a
// bidirectional transport, reconnection with exponential backoff, transcript
// accumulation, and durable persistence of conversation state.
//
// # Architecture
//
// The package provides a few core pieces:
//
//   - Manager: the lifecycle orchestrator; owns the state machine and wires
//     the capture and playback pipelines to the live session
//   - Transcript: per-role accumulators that turn streamed transcription
//     fragments into flushed conversation messages
//   - Dialer/Session: the transport seam; the wire protocol lives behind it
//   - Store: durable local state (messages, memory, checkpoints)
//
// # State Machine
//
// The connection progresses through these states:
//
//	DISCONNECTED → CONNECTING → CONNECTED
//	                   │             │
//	                   ↓             ↓
//	                 ERROR ←── RECONNECTING (1s, 2s, 4s backoff)
//
// A transport closure while connected schedules a reconnect; the retry
// budget is three attempts with doubling delay, and a successful open
// resets it. A manual Disconnect suppresses reconnection entirely. The
// error state is terminal until the next manual Connect.
//
// # Usage
//
//	cfg := live.DefaultSessionConfig()
//	cfg.Character = "nova"
//	cfg.SystemInstruction = "You are a helpful voice assistant."
//
//	manager := live.NewManager(cfg, dialer, tokens, store, capture, player)
//	if err := manager.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range manager.Events() {
//	    switch e := event.(type) {
//	    case *live.TranscriptDeltaEvent:
//	        fmt.Printf("%s: %s\n", e.Role, e.Delta)
//	    case *live.StateChangedEvent:
//	        fmt.Println("state:", e.To)
//	    }
//	}
package live
