package audio

import (
	"sync"
	"time"
)

// Clock abstracts the playback timeline so scheduling can run against a
// virtual clock in tests.
type Clock interface {
	// Now is a monotonic reading on the clock's own timeline.
	Now() time.Duration
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the stoppable handle returned by Clock.AfterFunc.
type Timer interface {
	// Stop reports false when the timer already fired or was stopped.
	Stop() bool
}

type realClock struct {
	epoch time.Time
}

// NewRealClock returns a Clock backed by the system monotonic clock.
func NewRealClock() Clock {
	return &realClock{epoch: time.Now()}
}

func (c *realClock) Now() time.Duration { return time.Since(c.epoch) }

func (c *realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Sink opens device output streams.
type Sink interface {
	Open(sampleRate int) (SinkStream, error)
}

// SinkStream accepts little-endian 16-bit PCM and plays it in arrival order.
type SinkStream interface {
	Write(pcm []byte) error
	// Flush discards any device-buffered audio immediately.
	Flush() error
	Close() error
}

type playbackUnit struct {
	startAt  time.Duration
	duration time.Duration
	timer    Timer
	ended    bool
}

// Player decodes inbound 24 kHz wire frames and plays them gaplessly. Each
// accepted frame becomes one scheduled unit: it starts at the later of now
// and the end of the previous unit, so frames arriving faster than realtime
// queue up back to back and frames arriving after a gap start immediately.
//
// Corrupted frames and zero-length frames are dropped without touching the
// schedule. The output stream is opened lazily on first accepted frame and
// reopened after Stop.
type Player struct {
	sink  Sink
	clock Clock

	mu        sync.Mutex
	stream    SinkStream
	active    []*playbackUnit
	nextStart time.Duration
	playing   bool
}

// NewPlayer builds a playback pipeline over the given device sink. A nil
// clock selects the system clock.
func NewPlayer(sink Sink, clock Clock) *Player {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Player{sink: sink, clock: clock}
}

// Enqueue decodes and schedules one wire frame. Frames that fail to decode,
// and frames that decode to zero samples, are dropped silently: they advance
// neither the schedule nor the playing flag.
func (p *Player) Enqueue(frameB64 string) {
	samples, err := DecodeFrame(frameB64)
	if err != nil || len(samples) == 0 {
		return
	}
	pcm := PCM16Bytes(samples)
	duration := time.Duration(len(samples)) * time.Second / PlaybackRate

	p.mu.Lock()
	if p.stream == nil && p.sink != nil {
		stream, err := p.sink.Open(PlaybackRate)
		if err != nil {
			p.mu.Unlock()
			return
		}
		p.stream = stream
	}
	now := p.clock.Now()
	startAt := now
	if p.nextStart > startAt {
		startAt = p.nextStart
	}
	u := &playbackUnit{startAt: startAt, duration: duration}
	p.nextStart = startAt + duration
	p.active = append(p.active, u)
	p.playing = true
	u.timer = p.clock.AfterFunc(startAt+duration-now, func() { p.unitEnded(u) })
	stream := p.stream
	p.mu.Unlock()

	if stream != nil {
		_ = stream.Write(pcm)
	}
}

func (p *Player) unitEnded(u *playbackUnit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u.ended {
		return
	}
	u.ended = true
	for i, v := range p.active {
		if v == u {
			p.active = append(p.active[:i], p.active[i+1:]...)
			break
		}
	}
	if len(p.active) == 0 {
		p.playing = false
	}
}

// ClearQueue stops every active unit and resets the schedule, so the next
// frame plays immediately. Used on barge-in and on connection teardown.
// Units that already finished on their own are skipped without error.
func (p *Player) ClearQueue() {
	p.mu.Lock()
	units := p.active
	p.active = nil
	p.nextStart = 0
	p.playing = false
	stream := p.stream
	p.mu.Unlock()
	for _, u := range units {
		if u.timer != nil {
			_ = u.timer.Stop()
		}
	}
	if stream != nil {
		_ = stream.Flush()
	}
}

// Stop clears the queue and closes the output stream. A later Enqueue
// reopens the stream.
func (p *Player) Stop() {
	p.ClearQueue()
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.mu.Unlock()
	if stream != nil {
		_ = stream.Close()
	}
}

// IsPlaying reports whether any scheduled unit has not yet finished.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// QueueDepth reports the number of active units. Intended for metrics.
func (p *Player) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}
