package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voiceloop/voiceloop/pkg/core/live"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testService is a scripted realtime endpoint: it acks setup and then
// serves frames pushed through send.
type testService struct {
	t *testing.T

	mu    sync.Mutex
	setup setupMessage
	token string
	recv  []json.RawMessage

	send chan any
}

func newTestService(t *testing.T) (*testService, *httptest.Server) {
	svc := &testService{t: t, send: make(chan any, 16)}
	srv := httptest.NewServer(http.HandlerFunc(svc.handle))
	t.Cleanup(srv.Close)
	return svc, srv
}

func (svc *testService) handle(w http.ResponseWriter, r *http.Request) {
	svc.mu.Lock()
	svc.token = r.URL.Query().Get("access_token")
	svc.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		svc.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	// First frame must be setup.
	var setup setupMessage
	if err := conn.ReadJSON(&setup); err != nil {
		svc.t.Errorf("read setup: %v", err)
		return
	}
	svc.mu.Lock()
	svc.setup = setup
	svc.mu.Unlock()
	if err := conn.WriteJSON(serverFrame{SetupComplete: &struct{}{}}); err != nil {
		svc.t.Errorf("ack setup: %v", err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			svc.mu.Lock()
			svc.recv = append(svc.recv, append(json.RawMessage(nil), data...))
			svc.mu.Unlock()
		}
	}()

	for {
		select {
		case frame, ok := <-svc.send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				<-done
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type recordedHandler struct {
	mu       sync.Mutex
	opened   bool
	messages []live.ServerMessage
	errs     []error
	closed   chan error
}

func newRecordedHandler() (*recordedHandler, live.SessionHandler) {
	h := &recordedHandler{closed: make(chan error, 1)}
	return h, live.SessionHandler{
		OnOpen: func() {
			h.mu.Lock()
			h.opened = true
			h.mu.Unlock()
		},
		OnMessage: func(msg live.ServerMessage) {
			h.mu.Lock()
			h.messages = append(h.messages, msg)
			h.mu.Unlock()
		},
		OnError: func(err error) {
			h.mu.Lock()
			h.errs = append(h.errs, err)
			h.mu.Unlock()
		},
		OnClose: func(err error) { h.closed <- err },
	}
}

func (h *recordedHandler) snapshot() []live.ServerMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]live.ServerMessage(nil), h.messages...)
}

func testParams() live.SessionParams {
	return live.SessionParams{
		Token:               "tkn-abc",
		Model:               "gemini-2.0-flash-live-001",
		Voice:               "Aoede",
		SystemInstruction:   "Be brief.",
		InputTranscription:  true,
		OutputTranscription: true,
		SilenceDurationMs:   800,
	}
}

func TestDialer_SetupExchange(t *testing.T) {
	svc, srv := newTestService(t)
	d := &Dialer{Endpoint: wsURL(srv)}

	h, handler := newRecordedHandler()
	session, err := d.Dial(context.Background(), testParams(), handler)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()

	h.mu.Lock()
	opened := h.opened
	h.mu.Unlock()
	if !opened {
		t.Error("OnOpen not fired after Dial")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.token != "tkn-abc" {
		t.Errorf("token = %q, want query-passed credential", svc.token)
	}
	setup := svc.setup.Setup
	if setup.Model != "gemini-2.0-flash-live-001" {
		t.Errorf("model = %q", setup.Model)
	}
	if setup.GenerationConfig == nil || len(setup.GenerationConfig.ResponseModalities) != 1 ||
		setup.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("generation config = %+v, want AUDIO modality", setup.GenerationConfig)
	}
	if setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Aoede" {
		t.Error("voice name not carried into setup")
	}
	if setup.InputAudioTranscription == nil || setup.OutputAudioTranscription == nil {
		t.Error("transcription toggles not carried into setup")
	}
	if setup.RealtimeInputConfig.AutomaticActivityDetection.SilenceDurationMs != 800 {
		t.Error("silence duration not carried into setup")
	}
}

func TestSession_SendRealtimeInput(t *testing.T) {
	svc, srv := newTestService(t)
	d := &Dialer{Endpoint: wsURL(srv)}

	_, handler := newRecordedHandler()
	session, err := d.Dial(context.Background(), testParams(), handler)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()

	if err := session.SendRealtimeInput("audio/pcm;rate=16000", "AAAA"); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		svc.mu.Lock()
		n := len(svc.recv)
		svc.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("service never received the frame")
		}
		time.Sleep(5 * time.Millisecond)
	}

	svc.mu.Lock()
	raw := svc.recv[0]
	svc.mu.Unlock()
	var msg realtimeInputMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal sent frame: %v", err)
	}
	chunks := msg.RealtimeInput.MediaChunks
	if len(chunks) != 1 || chunks[0].MIMEType != "audio/pcm;rate=16000" || chunks[0].Data != "AAAA" {
		t.Errorf("media chunks = %+v", chunks)
	}
}

func TestSession_ServerContentMapping(t *testing.T) {
	svc, srv := newTestService(t)
	d := &Dialer{Endpoint: wsURL(srv)}

	h, handler := newRecordedHandler()
	session, err := d.Dial(context.Background(), testParams(), handler)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()

	svc.send <- serverFrame{ServerContent: &serverContent{
		ModelTurn: &content{Parts: []part{
			{InlineData: &blob{MIMEType: "audio/pcm;rate=24000", Data: "UklGRg=="}},
		}},
		OutputTranscription: &transcription{Text: "Hello"},
	}}
	svc.send <- serverFrame{ServerContent: &serverContent{
		InputTranscription: &transcription{Text: "hi"},
		TurnComplete:       true,
	}}

	deadline := time.Now().Add(2 * time.Second)
	for len(h.snapshot()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("messages = %+v, want 3", h.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs := h.snapshot()
	if msgs[0].AudioB64 != "UklGRg==" {
		t.Errorf("msgs[0] = %+v, want audio first", msgs[0])
	}
	if msgs[1].AssistantText != "Hello" {
		t.Errorf("msgs[1] = %+v, want assistant transcription", msgs[1])
	}
	if msgs[2].UserText != "hi" || !msgs[2].TurnComplete {
		t.Errorf("msgs[2] = %+v, want user text with turn complete", msgs[2])
	}
}

func TestSession_CleanServerCloseReportsNil(t *testing.T) {
	svc, srv := newTestService(t)
	d := &Dialer{Endpoint: wsURL(srv)}

	h, handler := newRecordedHandler()
	session, err := d.Dial(context.Background(), testParams(), handler)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	close(svc.send)
	select {
	case err := <-h.closed:
		if err != nil {
			t.Errorf("OnClose(%v), want nil for clean closure", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose never fired")
	}
	_ = session.Close()
}

func TestSession_SendAfterCloseFails(t *testing.T) {
	_, srv := newTestService(t)
	d := &Dialer{Endpoint: wsURL(srv)}

	_, handler := newRecordedHandler()
	session, err := d.Dial(context.Background(), testParams(), handler)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.SendClientContent("too late"); err == nil {
		t.Error("expected send on closed session to fail")
	}
}

func TestDialer_RejectsUnreachableEndpoint(t *testing.T) {
	d := &Dialer{Endpoint: "ws://127.0.0.1:1", HandshakeTimeout: 500 * time.Millisecond}
	_, handler := newRecordedHandler()
	if _, err := d.Dial(context.Background(), testParams(), handler); err == nil {
		t.Error("expected dial failure")
	}
}

func TestMapServerContent_InterruptFollowsAudio(t *testing.T) {
	msgs := mapServerContent(&serverContent{
		ModelTurn: &content{Parts: []part{
			{InlineData: &blob{MIMEType: "audio/pcm;rate=24000", Data: "AAAA"}},
			{InlineData: &blob{MIMEType: "audio/pcm;rate=24000", Data: "BBBB"}},
		}},
		Interrupted: true,
	})
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].AudioB64 != "AAAA" || msgs[1].AudioB64 != "BBBB" {
		t.Error("audio parts out of order")
	}
	if !msgs[2].Interrupted || msgs[2].AudioB64 != "" {
		t.Errorf("msgs[2] = %+v, want bare interrupt", msgs[2])
	}
}

func TestMapServerContent_EmptyFrame(t *testing.T) {
	if msgs := mapServerContent(&serverContent{}); len(msgs) != 0 {
		t.Errorf("empty frame mapped to %d messages, want 0", len(msgs))
	}
}
