// Package realtime is the websocket transport for the conversational audio
// service. It speaks the bidirectional generate-content protocol: one setup
// frame, then interleaved realtime media and server content frames.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceloop/voiceloop/pkg/core/live"
)

const (
	defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	defaultConnectTimeout = 15 * time.Second
	writeTimeout          = 10 * time.Second
)

// Dialer opens realtime sessions. The zero value targets the production
// endpoint.
type Dialer struct {
	// Endpoint overrides the service URL; ws:// is accepted for tests.
	Endpoint string
	// HandshakeTimeout bounds the websocket dial plus setup exchange.
	// Zero means 15 seconds.
	HandshakeTimeout time.Duration
}

// Dial connects, performs the setup exchange, and starts the read loop.
// The returned session is live: OnOpen has already fired by the time Dial
// returns.
func (d *Dialer) Dial(ctx context.Context, params live.SessionParams, handler live.SessionHandler) (live.Session, error) {
	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("access_token", params.Token)
	u.RawQuery = q.Encode()

	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wsDialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := wsDialer.DialContext(dialCtx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime endpoint: %w", err)
	}

	if err := completeSetup(conn, params, timeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &Session{
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	if handler.OnOpen != nil {
		handler.OnOpen()
	}
	return s, nil
}

// completeSetup sends the setup frame and waits for the acknowledgment.
func completeSetup(conn *websocket.Conn, params live.SessionParams, timeout time.Duration) error {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := conn.WriteJSON(buildSetup(params)); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await setup ack: %w", err)
		}
		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("decode setup ack: %w", err)
		}
		if frame.SetupComplete != nil {
			return nil
		}
	}
}

func buildSetup(params live.SessionParams) setupMessage {
	payload := setupPayload{
		Model: params.Model,
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if params.Voice != "" {
		payload.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: &voiceConfig{
				PrebuiltVoiceConfig: &prebuiltVoiceConfig{VoiceName: params.Voice},
			},
		}
	}
	if params.SystemInstruction != "" {
		payload.SystemInstruction = &content{
			Parts: []part{{Text: params.SystemInstruction}},
		}
	}
	if params.InputTranscription {
		payload.InputAudioTranscription = &struct{}{}
	}
	if params.OutputTranscription {
		payload.OutputAudioTranscription = &struct{}{}
	}
	if params.SilenceDurationMs > 0 {
		payload.RealtimeInputConfig = &realtimeInputConfig{
			AutomaticActivityDetection: &automaticActivityDetection{
				SilenceDurationMs: params.SilenceDurationMs,
			},
		}
	}
	return setupMessage{Setup: payload}
}

// Session is one open realtime stream.
type Session struct {
	conn    *websocket.Conn
	handler live.SessionHandler

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
}

// SendRealtimeInput streams one media chunk.
func (s *Session) SendRealtimeInput(mimeType, dataB64 string) error {
	return s.sendJSON(realtimeInputMessage{
		RealtimeInput: realtimeInputPayload{
			MediaChunks: []blob{{MIMEType: mimeType, Data: dataB64}},
		},
	})
}

// SendClientContent submits a complete user text turn.
func (s *Session) SendClientContent(text string) error {
	return s.sendJSON(clientContentMessage{
		ClientContent: clientContentPayload{
			Turns: []content{{
				Role:  "user",
				Parts: []part{{Text: text}},
			}},
			TurnComplete: true,
		},
	})
}

func (s *Session) sendJSON(v any) error {
	if s == nil {
		return fmt.Errorf("session must not be nil")
	}
	if s.closed.Load() {
		return fmt.Errorf("realtime session is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

// Close closes the websocket session and waits for the read loop to drain.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *Session) readLoop() {
	var closeErr error
	defer func() {
		close(s.done)
		if s.handler.OnClose != nil {
			s.handler.OnClose(closeErr)
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			closeErr = err
			if s.handler.OnError != nil {
				s.handler.OnError(err)
			}
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if s.handler.OnError != nil {
				s.handler.OnError(fmt.Errorf("decode server frame: %w", err))
			}
			continue
		}
		if frame.ServerContent == nil {
			continue
		}
		for _, msg := range mapServerContent(frame.ServerContent) {
			if s.handler.OnMessage != nil {
				s.handler.OnMessage(msg)
			}
		}
	}
}

// mapServerContent normalizes one wire frame into zero or more messages:
// audio parts first, then a single control message carrying transcriptions
// and turn flags, so barge-in always follows the audio it invalidates.
func mapServerContent(sc *serverContent) []live.ServerMessage {
	var out []live.ServerMessage
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				out = append(out, live.ServerMessage{AudioB64: p.InlineData.Data})
			}
		}
	}
	ctl := live.ServerMessage{
		Interrupted:  sc.Interrupted,
		TurnComplete: sc.TurnComplete,
	}
	if sc.InputTranscription != nil {
		ctl.UserText = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ctl.AssistantText = sc.OutputTranscription.Text
	}
	if ctl != (live.ServerMessage{}) {
		out = append(out, ctl)
	}
	return out
}
