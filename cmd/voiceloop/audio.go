package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/voiceloop/voiceloop/pkg/core/audio"
)

// micSource opens the system microphone through malgo. It implements
// audio.Source; the capture pipeline owns start/stop ordering.
type micSource struct {
	sampleRate int
}

func (m *micSource) Open(ctx context.Context, opts audio.SourceOptions) (audio.SourceStream, error) {
	malgoConfig := malgo.ContextConfig{}
	malgoConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, malgoConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	s := &micStream{
		malgoCtx: malgoCtx,
		rate:     m.sampleRate,
		frame:    opts.FrameSize,
	}
	s.cond = sync.NewCond(&s.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			samples := float32sFromBytes(pInputSamples)
			s.mu.Lock()
			s.buf = append(s.buf, samples...)
			s.mu.Unlock()
			s.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, fmt.Errorf("init microphone: %w", err)
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	return s, nil
}

func float32sFromBytes(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}

type micStream struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	rate     int
	frame    int

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []float32
	closed bool
}

func (s *micStream) SampleRate() int { return s.rate }

// Read blocks until a full frame of samples has accumulated.
func (s *micStream) Read(ctx context.Context) ([]float32, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) < s.frame && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, fmt.Errorf("microphone stream closed")
	}
	out := make([]float32, s.frame)
	copy(out, s.buf[:s.frame])
	s.buf = s.buf[s.frame:]
	return out, nil
}

func (s *micStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	if s.malgoCtx != nil {
		_ = s.malgoCtx.Uninit()
	}
	return nil
}

// speakerSink opens the system speaker through oto. The oto context can
// only exist once per process, so the sink creates it lazily and reuses it
// across stream open/close cycles.
type speakerSink struct {
	mu     sync.Mutex
	otoCtx *oto.Context
}

func (sk *speakerSink) Open(sampleRate int) (audio.SinkStream, error) {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if sk.otoCtx == nil {
		otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("init speaker: %w", err)
		}
		<-ready
		sk.otoCtx = otoCtx
	}

	s := &speakerStream{otoCtx: sk.otoCtx}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// speakerStream feeds PCM to an oto player through an io.Reader pull loop.
type speakerStream struct {
	otoCtx *oto.Context
	player *oto.Player

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	playing bool
	closed  bool
}

func (s *speakerStream) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker stream closed")
	}
	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for the oto player.
func (s *speakerStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		// Feed silence so oto drains instead of underrunning.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush drops buffered audio and tears down the player so stale speech
// stops immediately instead of draining.
func (s *speakerStream) Flush() error {
	s.mu.Lock()
	s.buf = s.buf[:0]
	player := s.player
	wasPlaying := s.playing
	s.player = nil
	s.playing = false
	s.mu.Unlock()
	s.cond.Broadcast()

	if player != nil && wasPlaying {
		player.Pause()
		player.Reset()
		_ = player.Close()
	}
	return nil
}

func (s *speakerStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	player := s.player
	s.player = nil
	s.mu.Unlock()
	s.cond.Broadcast()

	if player != nil {
		_ = player.Close()
	}
	return nil
}
