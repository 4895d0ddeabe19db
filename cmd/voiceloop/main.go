// Command voiceloop is a real-time voice conversation client: it captures
// microphone audio, streams it to a conversational model over a live
// websocket session, plays the spoken replies, and persists transcripts
// locally.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/voiceloop/voiceloop/internal/config"
	"github.com/voiceloop/voiceloop/internal/metrics"
	"github.com/voiceloop/voiceloop/internal/store"
	"github.com/voiceloop/voiceloop/pkg/core/audio"
	"github.com/voiceloop/voiceloop/pkg/core/extract"
	"github.com/voiceloop/voiceloop/pkg/core/live"
	"github.com/voiceloop/voiceloop/pkg/core/realtime"
	"github.com/voiceloop/voiceloop/pkg/core/token"
)

type options struct {
	configPath string
	character  string
	mode       string
	endpoint   string
	debug      bool
	noMic      bool
	noSpeaker  bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	// Pick up VOICELOOP_* overrides from a local .env during development.
	_ = godotenv.Load()

	var opt options
	flag.StringVar(&opt.configPath, "config", "voiceloop.yaml", "Path to YAML config")
	flag.StringVar(&opt.character, "character", "", "Character override")
	flag.StringVar(&opt.mode, "mode", "", "Initial conversation mode")
	flag.StringVar(&opt.endpoint, "endpoint", "", "Realtime endpoint override (for local gateways)")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&opt.noMic, "no-mic", false, "Disable microphone capture (text input only)")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "Disable audio playback")
	flag.Parse()

	cfg, err := config.Load(opt.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}
	if opt.character != "" {
		cfg.Character.Name = opt.character
	}
	if opt.debug {
		cfg.Debug = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "store:", err)
		return 1
	}
	defer db.Close()

	var capture *audio.Capture
	if !opt.noMic {
		capture = audio.NewCapture(&micSource{sampleRate: cfg.Audio.CaptureRate}, audio.SourceOptions{
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGainControl:  cfg.Audio.AutoGainControl,
			FrameSize:        cfg.Audio.FrameSize,
		})
	}
	var player *audio.Player
	if !opt.noSpeaker {
		player = audio.NewPlayer(&speakerSink{}, nil)
	}

	sessionCfg := live.SessionConfig{
		Character:           cfg.Character.Name,
		Model:               cfg.Session.Model,
		Voice:               cfg.Character.Voice,
		SystemInstruction:   cfg.Character.SystemPrompt,
		InputTranscription:  cfg.Session.InputTranscription,
		OutputTranscription: cfg.Session.OutputTranscription,
		SilenceDurationMs:   cfg.Session.SilenceDurationMs,
		Flags:               cfg.Character.Flags,
	}

	manager := live.NewManager(
		sessionCfg,
		&realtime.Dialer{Endpoint: opt.endpoint},
		token.NewClient(cfg.Token.Endpoint),
		db,
		capture,
		player,
	)
	defer manager.Close()
	if cfg.Debug {
		manager.EnableDebug()
	}
	if cfg.Extraction.Endpoint != "" {
		manager.SetExtractor(extract.NewClient(cfg.Extraction.Endpoint))
	}
	if opt.mode != "" {
		manager.SetMode(opt.mode)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv := metrics.Serve(cfg.Metrics.Addr)
		defer srv.Close()
	}

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for event := range manager.Events() {
			if m != nil {
				m.Observe(event)
			}
			printEvent(event)
		}
	}()

	if err := manager.Connect(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "connect:", err)
		return 1
	}

	go readCommands(ctx, manager, capture, db, cfg.Character.Name)

	<-ctx.Done()
	fmt.Println("\nshutting down")
	manager.Disconnect()
	_ = manager.Close()
	<-eventsDone
	return 0
}

func printEvent(event live.Event) {
	switch e := event.(type) {
	case *live.StateChangedEvent:
		if e.To == live.StateError {
			fmt.Printf("-- %s (%s)\n", e.To, e.Err)
		} else {
			fmt.Printf("-- %s\n", e.To)
		}
	case *live.TranscriptDeltaEvent:
		fmt.Printf("%s", e.Delta)
	case *live.TurnCompleteEvent:
		fmt.Println()
	case *live.InterruptedEvent:
		fmt.Println("\n-- interrupted")
	case *live.ReconnectScheduledEvent:
		fmt.Printf("-- reconnecting (attempt %d) in %s\n", e.Attempt, e.Delay)
	case *live.ErrorEvent:
		fmt.Fprintf(os.Stderr, "error [%s]: %s\n", e.Code, e.Message)
	}
}

// readCommands handles line commands on stdin: plain text becomes a text
// turn, /mode switches conversation mode, /quit disconnects.
func readCommands(ctx context.Context, manager *live.Manager, capture *audio.Capture, db *store.Store, character string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "/quit":
			manager.Disconnect()
			return
		case strings.HasPrefix(line, "/mode "):
			manager.SetMode(strings.TrimSpace(strings.TrimPrefix(line, "/mode ")))
		case line == "/reconnect":
			_ = manager.Connect(ctx)
		case line == "/state":
			status := fmt.Sprintf("-- %s (%s)", manager.State(), manager.VoiceActivity())
			if capture != nil && capture.Capturing() {
				status += fmt.Sprintf(" level=%.3f", capture.Level())
			}
			fmt.Println(status)
		case line == "/history":
			msgs, err := db.RecentMessages(character, 20)
			if err != nil {
				fmt.Fprintln(os.Stderr, "history:", err)
				continue
			}
			for _, msg := range msgs {
				fmt.Printf("%s: %s\n", msg.Role, msg.Content)
			}
		default:
			if err := manager.SendText(line); err != nil {
				fmt.Fprintln(os.Stderr, "send:", err)
			}
		}
	}
}
