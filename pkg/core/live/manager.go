package live

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"

	"github.com/voiceloop/voiceloop/pkg/core"
	"github.com/voiceloop/voiceloop/pkg/core/audio"
)

const realtimeAudioMIME = "audio/pcm;rate=16000"

// timer is the stoppable handle used for scheduled reconnects.
type timer interface {
	Stop() bool
}

// Manager owns the connection lifecycle for one conversation: credential
// acquisition, session establishment, reconnection with exponential backoff,
// transcript accumulation, and durable persistence. It coordinates the
// capture and playback pipelines but owns neither device.
type Manager struct {
	config SessionConfig

	dialer    Dialer
	tokens    TokenSource
	store     Store
	extractor Extractor

	capture *audio.Capture
	player  *audio.Player

	mu               sync.RWMutex
	state            ConnectionState
	errMsg           string
	session          Session
	attempts         int
	manualDisconnect bool
	retryTimer       timer
	mode             string
	baseCtx          context.Context
	sessionLog       []Message

	transcript *Transcript
	inFlight   atomic.Bool

	// afterFunc schedules reconnect timers; replaced in tests.
	afterFunc    func(d time.Duration, fn func()) timer
	modeDebounce func(func())

	// eventMu serializes sends against the channel close in Close.
	eventMu sync.Mutex
	events  chan Event
	done    chan struct{}
	closed  atomic.Bool

	debugEnabled bool
}

// NewManager wires a Manager over its collaborators. The extractor may be
// nil; fact extraction is then skipped.
func NewManager(
	config SessionConfig,
	dialer Dialer,
	tokens TokenSource,
	store Store,
	capture *audio.Capture,
	player *audio.Player,
) *Manager {
	m := &Manager{
		config:     config,
		dialer:     dialer,
		tokens:     tokens,
		store:      store,
		capture:    capture,
		player:     player,
		transcript: NewTranscript(),
		baseCtx:    context.Background(),
		afterFunc: func(d time.Duration, fn func()) timer {
			return time.AfterFunc(d, fn)
		},
		modeDebounce: debounce.New(modeSwitchDelay),
		events:       make(chan Event, 100),
		done:         make(chan struct{}),
	}
	if capture != nil {
		capture.SetSink(m.sendAudioFrame)
	}
	return m
}

// SetExtractor installs the fact extractor. Call before Connect.
func (m *Manager) SetExtractor(e Extractor) {
	m.extractor = e
}

// EnableDebug enables debug event emission and stderr logging.
func (m *Manager) EnableDebug() {
	m.debugEnabled = true
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns the failure message for the error state, or "".
func (m *Manager) Err() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errMsg
}

// Mode returns the current conversation mode.
func (m *Manager) Mode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Events returns the channel for receiving session events. Events are
// dropped, never blocked on, when the consumer falls behind.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect establishes a fresh session. It resets the manual-disconnect
// latch and the retry budget, so it also works as the manual escape from
// the error state. A Connect while another connect attempt is in flight is
// a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
	return m.connect(ctx, false)
}

func (m *Manager) connect(ctx context.Context, isReconnect bool) error {
	if m.closed.Load() {
		return fmt.Errorf("manager closed")
	}
	if !m.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer m.inFlight.Store(false)

	m.mu.Lock()
	if isReconnect && m.manualDisconnect {
		// Disconnect won the race against the retry timer.
		m.mu.Unlock()
		return nil
	}
	if !isReconnect && m.session != nil {
		m.mu.Unlock()
		return nil
	}
	if !isReconnect {
		m.manualDisconnect = false
		m.attempts = 0
		m.sessionLog = nil
		m.transcript.Reset()
	}
	m.mu.Unlock()

	if isReconnect {
		m.setState(StateReconnecting, "")
	} else {
		m.setState(StateConnecting, "")
	}

	m.recoverCheckpoint()
	m.extractPending(ctx)

	token, err := m.tokens.Token(ctx, TokenRequest{
		Character: m.config.Character,
		Mode:      m.Mode(),
		Flags:     m.config.Flags,
	})
	if err != nil {
		return m.connectFailed(isReconnect, core.NewCredentialFetchError(err.Error()))
	}

	m.mu.Lock()
	abandoned := m.manualDisconnect
	m.mu.Unlock()
	if abandoned {
		// Disconnect raced the credential fetch; drop the attempt.
		return core.NewUserAbortError("connection attempt abandoned by disconnect")
	}

	session, err := m.dialer.Dial(ctx, m.sessionParams(token), SessionHandler{
		OnOpen:    m.onOpen,
		OnMessage: m.onMessage,
		OnError:   m.onSessionError,
		OnClose:   m.onClose,
	})
	if err != nil {
		return m.connectFailed(isReconnect, core.NewSessionOpenError(err.Error()))
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if m.capture != nil {
		if err := m.capture.Start(ctx); err != nil {
			cerr := core.NewPermissionDeniedError(err.Error())
			m.debug("AUDIO", "capture start failed: "+cerr.Message)
			m.emit(&ErrorEvent{Code: string(cerr.Type), Message: cerr.Message})
		}
	}
	return nil
}

func (m *Manager) sessionParams(token string) SessionParams {
	return SessionParams{
		Token:               token,
		Model:               m.config.Model,
		Voice:               m.config.Voice,
		SystemInstruction:   m.systemInstruction(),
		InputTranscription:  m.config.InputTranscription,
		OutputTranscription: m.config.OutputTranscription,
		SilenceDurationMs:   m.config.SilenceDurationMs,
	}
}

// systemInstruction folds persisted memory into the persona prompt so the
// next session picks up where the last one left off.
func (m *Manager) systemInstruction() string {
	instruction := m.config.SystemInstruction
	if m.store == nil {
		return instruction
	}
	memory, err := m.store.Memory(m.config.Character)
	if err != nil {
		m.debug("STORE", "load memory: "+err.Error())
		return instruction
	}
	if memory == "" {
		return instruction
	}
	if instruction == "" {
		return "Earlier conversation:\n" + memory
	}
	return instruction + "\n\nEarlier conversation:\n" + memory
}

func (m *Manager) connectFailed(isReconnect bool, cerr *core.Error) error {
	m.debug("CONN", "connect failed: "+cerr.Error())
	m.mu.Lock()
	retry := isReconnect && !m.manualDisconnect && m.attempts < maxReconnectAttempts && cerr.IsRetryable()
	m.mu.Unlock()
	if retry {
		m.scheduleRetry()
	} else {
		m.mu.Lock()
		m.attempts = 0
		m.mu.Unlock()
		m.setState(StateError, cerr.Message)
	}
	return cerr
}

// scheduleRetry arms the next reconnect timer. Delay doubles per attempt
// within the budget; the caller has already checked the budget.
func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	attempt := m.attempts
	m.attempts++
	delay := reconnectBaseDelay << attempt
	ctx := m.baseCtx
	m.mu.Unlock()

	m.setState(StateReconnecting, "")
	m.emit(&ReconnectScheduledEvent{Attempt: attempt + 1, Delay: delay})
	m.debug("CONN", fmt.Sprintf("reconnect %d/%d in %s", attempt+1, maxReconnectAttempts, delay))

	t := m.afterFunc(delay, func() {
		_ = m.connect(ctx, true)
	})
	m.mu.Lock()
	m.retryTimer = t
	m.mu.Unlock()
}

func (m *Manager) onOpen() {
	m.mu.Lock()
	if m.manualDisconnect {
		// A stale open racing a disconnect; teardown already ran.
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.errMsg = ""
	m.mu.Unlock()
	m.setState(StateConnected, "")
}

func (m *Manager) onMessage(msg ServerMessage) {
	if msg.AudioB64 != "" && m.player != nil {
		m.player.Enqueue(msg.AudioB64)
	}
	if msg.UserText != "" {
		m.transcript.Append(RoleUser, msg.UserText)
		m.emit(&TranscriptDeltaEvent{Role: RoleUser, Delta: msg.UserText})
	}
	if msg.AssistantText != "" {
		m.transcript.Append(RoleAssistant, msg.AssistantText)
		m.emit(&TranscriptDeltaEvent{Role: RoleAssistant, Delta: msg.AssistantText})
	}
	if msg.Interrupted {
		if m.player != nil {
			m.player.ClearQueue()
		}
		m.flush(m.transcript.FlushAssistant())
		m.emit(&InterruptedEvent{})
	}
	if msg.TurnComplete {
		m.flush(m.transcript.FlushTurn())
		turn := m.transcript.CompletedTurns()
		m.emit(&TurnCompleteEvent{Turn: turn})
		if turn%checkpointInterval == 0 {
			m.writeCheckpoint(turn)
		}
	}
}

// onSessionError records transport errors. State handling is deferred to
// onClose, which always follows a fatal error.
func (m *Manager) onSessionError(err error) {
	m.debug("CONN", "session error: "+err.Error())
	m.emit(&ErrorEvent{Code: string(core.ErrTransportClosed), Message: err.Error()})
}

func (m *Manager) onClose(err error) {
	if m.closed.Load() {
		return
	}
	reason := "clean"
	if err != nil {
		reason = err.Error()
	}
	m.debug("CONN", "session closed: "+reason)

	m.mu.Lock()
	m.session = nil
	manual := m.manualDisconnect
	m.mu.Unlock()

	if m.capture != nil {
		m.capture.Stop()
	}
	if m.player != nil {
		// Stale audio from the dead session must never play.
		m.player.ClearQueue()
	}
	if !manual {
		m.writeCheckpoint(m.transcript.CompletedTurns())
	}
	m.flush(m.transcript.FlushAll())

	m.mu.Lock()
	manual = m.manualDisconnect
	canRetry := m.attempts < maxReconnectAttempts
	if !manual && !canRetry {
		m.attempts = 0
	}
	m.mu.Unlock()

	switch {
	case manual:
		m.setState(StateDisconnected, "")
	case canRetry:
		m.scheduleRetry()
	default:
		m.setState(StateError, "connection lost")
	}
}

// Disconnect tears the session down deliberately: it latches the
// manual-disconnect flag, cancels any pending retry or mode switch, turns
// leftover transcript fragments into synthetic messages, persists memory
// and the pending-extraction transcript, and releases both audio devices.
// Safe to call redundantly from any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualDisconnect = true
	m.attempts = 0
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	session := m.session
	m.session = nil
	m.mu.Unlock()

	// Defuse a pending mode switch; the guard in connect catches the
	// window where the debounced call already fired.
	m.modeDebounce(func() {})

	m.flush(m.transcript.FlushAll())
	m.persistSessionTail()
	if m.store != nil {
		if err := m.store.ClearCheckpoint(m.config.Character); err != nil {
			m.debug("STORE", "clear checkpoint: "+err.Error())
		}
	}

	if m.capture != nil {
		m.capture.Stop()
	}
	if m.player != nil {
		m.player.Stop()
	}
	if session != nil {
		_ = session.Close()
	}
	m.setState(StateDisconnected, "")
}

// SetMode records the conversation mode. When a session is live the switch
// is applied by tearing down and reconnecting after a short debounce, so a
// rapid toggle costs one reconnect, not several.
func (m *Manager) SetMode(mode string) {
	m.mu.Lock()
	m.mode = mode
	state := m.state
	ctx := m.baseCtx
	m.mu.Unlock()

	if state != StateConnected && state != StateConnecting && state != StateReconnecting {
		return
	}
	m.Disconnect()
	m.modeDebounce(func() {
		_ = m.connect(ctx, false)
	})
}

// SendText submits a text turn over the live session.
func (m *Manager) SendText(text string) error {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()
	if session == nil {
		return core.NewTransportClosedError("no live session")
	}
	return session.SendClientContent(text)
}

// sendAudioFrame is the capture sink: one encoded 16 kHz frame per call.
func (m *Manager) sendAudioFrame(frameB64 string) {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()
	if session == nil {
		return
	}
	if err := session.SendRealtimeInput(realtimeAudioMIME, frameB64); err != nil {
		m.debug("AUDIO", "send frame: "+err.Error())
	}
}

// VoiceActivity is the display state derived from connection, capture, and
// playback.
type VoiceActivity string

const (
	VoiceIdle       VoiceActivity = "idle"
	VoiceListening  VoiceActivity = "listening"
	VoiceSpeaking   VoiceActivity = "speaking"
	VoiceConnecting VoiceActivity = "connecting"
)

// VoiceActivity derives the display state on demand. It is a pure function
// of the underlying pipelines; nothing caches it, so it can never go stale.
func (m *Manager) VoiceActivity() VoiceActivity {
	switch m.State() {
	case StateConnecting, StateReconnecting:
		return VoiceConnecting
	case StateConnected:
		if m.player != nil && m.player.IsPlaying() {
			return VoiceSpeaking
		}
		if m.capture != nil && m.capture.Capturing() {
			return VoiceListening
		}
		return VoiceIdle
	default:
		return VoiceIdle
	}
}

// flush persists messages and appends them to the session log.
func (m *Manager) flush(msgs []Message) {
	for _, msg := range msgs {
		m.mu.Lock()
		m.sessionLog = append(m.sessionLog, msg)
		m.mu.Unlock()
		if m.store != nil {
			if err := m.store.AppendMessage(m.config.Character, msg); err != nil {
				m.debug("STORE", "append message: "+err.Error())
			}
		}
		m.emit(&MessageFlushedEvent{Message: msg})
	}
}

// snapshot renders the session so far: flushed messages plus any
// unflushed buffer content.
func (m *Manager) snapshot() string {
	m.mu.RLock()
	log := make([]Message, len(m.sessionLog))
	copy(log, m.sessionLog)
	m.mu.RUnlock()

	rendered := RenderMessages(log)
	user, assistant := m.transcript.Peek()
	var extra []string
	if user != "" {
		extra = append(extra, string(RoleUser)+": "+user)
	}
	if assistant != "" {
		extra = append(extra, string(RoleAssistant)+": "+assistant)
	}
	if len(extra) == 0 {
		return rendered
	}
	if rendered == "" {
		return strings.Join(extra, "\n")
	}
	return rendered + "\n" + strings.Join(extra, "\n")
}

func (m *Manager) writeCheckpoint(turn int) {
	if m.store == nil {
		return
	}
	content := m.snapshot()
	if content == "" {
		return
	}
	if err := m.store.SetCheckpoint(m.config.Character, content); err != nil {
		m.debug("STORE", "write checkpoint: "+err.Error())
		return
	}
	m.emit(&CheckpointWrittenEvent{Turn: turn})
}

// persistSessionTail writes the condensed memory and marks the session
// transcript pending for fact extraction.
func (m *Manager) persistSessionTail() {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	log := make([]Message, len(m.sessionLog))
	copy(log, m.sessionLog)
	m.mu.RUnlock()
	if len(log) == 0 {
		return
	}

	tail := log
	if len(tail) > memoryTurns {
		tail = tail[len(tail)-memoryTurns:]
	}
	if err := m.store.SetMemory(m.config.Character, RenderMessages(tail)); err != nil {
		m.debug("STORE", "write memory: "+err.Error())
	}

	transcript := RenderMessages(log)
	existing, err := m.store.PendingTranscript(m.config.Character)
	if err == nil && existing != "" {
		transcript = existing + "\n" + transcript
	}
	if err := m.store.SetPendingTranscript(m.config.Character, transcript); err != nil {
		m.debug("STORE", "write pending transcript: "+err.Error())
	}
}

// recoverCheckpoint moves a checkpoint orphaned by an abrupt termination
// into the pending-extraction slot.
func (m *Manager) recoverCheckpoint() {
	if m.store == nil {
		return
	}
	character := m.config.Character
	cp, err := m.store.Checkpoint(character)
	if err != nil || cp == "" {
		return
	}
	m.debug("STORE", "recovering orphaned checkpoint")
	pending, err := m.store.PendingTranscript(character)
	if err == nil && pending != "" {
		cp = pending + "\n" + cp
	}
	if err := m.store.SetPendingTranscript(character, cp); err != nil {
		m.debug("STORE", "stash checkpoint: "+err.Error())
		return
	}
	if err := m.store.ClearCheckpoint(character); err != nil {
		m.debug("STORE", "clear checkpoint: "+err.Error())
	}
}

// extractPending kicks off best-effort fact extraction for any transcript
// waiting in the pending slot. Failure leaves the slot untouched for the
// next attempt and never affects the connection.
func (m *Manager) extractPending(ctx context.Context) {
	if m.extractor == nil || m.store == nil {
		return
	}
	character := m.config.Character
	pending, err := m.store.PendingTranscript(character)
	if err != nil || strings.TrimSpace(pending) == "" {
		return
	}
	go func() {
		if err := m.extractor.Extract(ctx, character, pending); err != nil {
			m.debug("EXTRACT", "extraction failed: "+err.Error())
			m.emit(&ErrorEvent{Code: string(core.ErrExtraction), Message: err.Error()})
			return
		}
		if err := m.store.ClearPendingTranscript(character); err != nil {
			m.debug("STORE", "clear pending transcript: "+err.Error())
		}
	}()
}

// Close tears everything down and closes the events channel. The manager
// cannot be reused afterwards.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.debug("CONN", "closing manager")
	m.mu.Lock()
	m.manualDisconnect = true
	m.attempts = 0
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	session := m.session
	m.session = nil
	m.mu.Unlock()

	m.modeDebounce(func() {})
	m.flush(m.transcript.FlushAll())
	m.persistSessionTail()
	if m.store != nil {
		_ = m.store.ClearCheckpoint(m.config.Character)
	}
	if m.capture != nil {
		m.capture.Stop()
	}
	if m.player != nil {
		m.player.Stop()
	}
	if session != nil {
		_ = session.Close()
	}
	m.setState(StateDisconnected, "")

	close(m.done)
	m.eventMu.Lock()
	close(m.events)
	m.eventMu.Unlock()
	return nil
}

func (m *Manager) setState(newState ConnectionState, errMsg string) {
	m.mu.Lock()
	oldState := m.state
	m.state = newState
	m.errMsg = errMsg
	m.mu.Unlock()

	if oldState != newState {
		m.debug("CONN", fmt.Sprintf("state: %s -> %s", oldState, newState))
		m.emit(&StateChangedEvent{From: oldState, To: newState, Err: errMsg})
	}
}

// emit sends an event to the events channel. The closed check and the send
// happen under eventMu so a late emit can never race the channel close.
func (m *Manager) emit(event Event) {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()
	if m.closed.Load() {
		return
	}
	select {
	case m.events <- event:
	case <-m.done:
	default:
		// Channel full, drop event
	}
}

// debug logs a debug message if debug mode is enabled.
func (m *Manager) debug(category, message string) {
	if m.debugEnabled {
		timestamp := time.Now().Format("15:04:05.000")
		fmt.Fprintf(os.Stderr, "\033[90m%s\033[0m [\033[36m%-10s\033[0m] %s\n", timestamp, category, message)
		m.emit(&DebugEvent{Category: category, Message: message})
	}
}
