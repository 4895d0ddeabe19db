package audio

import (
	"context"
	"fmt"
	"sync"
)

// SourceOptions are the processing constraints requested from the capture
// device. The device's native sample rate is never constrained here; forcing
// a rate makes some platforms deliver silence.
type SourceOptions struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	// FrameSize is the number of samples per delivered buffer.
	// Zero means DefaultFrameSize.
	FrameSize int
}

// Source acquires a microphone-like capture device.
type Source interface {
	Open(ctx context.Context, opts SourceOptions) (SourceStream, error)
}

// SourceStream delivers buffers of float32 samples in [-1, 1] at the
// device's native rate.
type SourceStream interface {
	// SampleRate reports the native rate the device actually granted.
	SampleRate() int
	// Read blocks until the next buffer is available. It returns an error
	// once the stream is closed.
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// Capture turns a live microphone stream into base64 16 kHz PCM frames and
// hands them to a sink callback. One Capture drives at most one stream at a
// time; Start while running is a no-op and Stop is idempotent.
type Capture struct {
	source Source
	opts   SourceOptions

	mu          sync.Mutex
	starting    bool
	capturing   bool
	unsupported bool
	level       float64
	stream      SourceStream
	cancel      context.CancelFunc
	sink        func(frameB64 string)
}

// NewCapture builds a capture pipeline over the given device source.
func NewCapture(source Source, opts SourceOptions) *Capture {
	if opts.FrameSize <= 0 {
		opts.FrameSize = DefaultFrameSize
	}
	return &Capture{source: source, opts: opts}
}

// SetSink installs the frame consumer. The sink is invoked from the capture
// goroutine and must not block for long.
func (c *Capture) SetSink(fn func(frameB64 string)) {
	c.mu.Lock()
	c.sink = fn
	c.mu.Unlock()
}

// Start acquires the device and begins emitting encoded frames. A Start
// while another Start is in flight, or while already capturing, returns nil
// without side effects. Once a Start has failed the pipeline is marked
// unsupported and later Starts fail fast; the caller decides whether to
// re-enable via Reset.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || c.capturing {
		c.mu.Unlock()
		return nil
	}
	if c.unsupported {
		c.mu.Unlock()
		return fmt.Errorf("capture marked unsupported by earlier failure")
	}
	c.starting = true
	c.mu.Unlock()

	stream, err := c.source.Open(ctx, c.opts)
	if err != nil {
		c.fail()
		return fmt.Errorf("open capture source: %w", err)
	}
	rate := stream.SampleRate()
	if rate <= 0 {
		// Device granted but unusable. Release it before reporting.
		_ = stream.Close()
		c.fail()
		return fmt.Errorf("capture stream reported sample rate %d", rate)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.stream = stream
	c.cancel = cancel
	c.starting = false
	c.capturing = true
	c.mu.Unlock()

	go c.run(runCtx, stream, rate)
	return nil
}

func (c *Capture) fail() {
	c.mu.Lock()
	c.starting = false
	c.unsupported = true
	c.mu.Unlock()
}

func (c *Capture) run(ctx context.Context, stream SourceStream, rate int) {
	for {
		buf, err := stream.Read(ctx)
		if err != nil {
			return
		}
		samples := PCM16FromFloat32(Downsample(buf, rate, CaptureRate))
		frame := EncodeFrame(samples)
		c.mu.Lock()
		c.level = CalculateRMSEnergy(samples)
		sink := c.sink
		capturing := c.capturing
		c.mu.Unlock()
		if !capturing {
			return
		}
		if sink != nil {
			sink(frame)
		}
	}
}

// Stop releases the device and halts frame emission. Safe to call at any
// time, from any goroutine, any number of times.
func (c *Capture) Stop() {
	c.mu.Lock()
	stream := c.stream
	cancel := c.cancel
	c.stream = nil
	c.cancel = nil
	c.capturing = false
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

// Level reports the RMS energy of the most recent emitted frame, in [0, 1].
func (c *Capture) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Capturing reports whether a stream is currently live.
func (c *Capture) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Supported reports whether capture is believed to work. It flips false the
// first time a Start fails, typically on permission denial.
func (c *Capture) Supported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.unsupported
}

// Reset clears the unsupported mark so the next Start tries the device
// again. It does not touch a running stream.
func (c *Capture) Reset() {
	c.mu.Lock()
	c.unsupported = false
	c.mu.Unlock()
}
