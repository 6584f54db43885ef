package device

import (
	"context"
	"sync"
	"time"

	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/audio"
)

// Fake is an in-memory Devices implementation. It counts acquisitions and
// releases so callers can verify that every resource is freed exactly once.
type Fake struct {
	// MicErr, CaptureErr and PlaybackErr make the matching acquisition fail.
	MicErr      error
	CaptureErr  error
	PlaybackErr error

	// Cadence, when positive, makes connected capture contexts emit silent
	// frames at that interval until closed.
	Cadence time.Duration

	// CaptureCloseErr is returned by every capture context Close, after the
	// close has been counted.
	CaptureCloseErr error
	// BeforeConnect runs at the start of each capture Connect call.
	BeforeConnect func()

	mu        sync.Mutex
	streams   []*FakeStream
	captures  []*FakeCapture
	playbacks []*FakePlayback
}

// NewFake returns fake devices that succeed.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) OpenMicrophone(ctx context.Context) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.MicErr != nil {
		return nil, f.MicErr
	}
	s := &FakeStream{}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *Fake) NewCaptureContext(sampleRate int) (CaptureContext, error) {
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	c := &FakeCapture{
		rate:          sampleRate,
		cadence:       f.Cadence,
		closeErr:      f.CaptureCloseErr,
		beforeConnect: f.BeforeConnect,
		quit:          make(chan struct{}),
	}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

func (f *Fake) NewPlaybackContext(sampleRate int) (PlaybackContext, error) {
	if f.PlaybackErr != nil {
		return nil, f.PlaybackErr
	}
	p := &FakePlayback{rate: sampleRate}
	f.mu.Lock()
	f.playbacks = append(f.playbacks, p)
	f.mu.Unlock()
	return p, nil
}

// Streams returns every microphone stream opened so far.
func (f *Fake) Streams() []*FakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeStream(nil), f.streams...)
}

// Captures returns every capture context created so far.
func (f *Fake) Captures() []*FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeCapture(nil), f.captures...)
}

// Playbacks returns every playback context created so far.
func (f *Fake) Playbacks() []*FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlayback(nil), f.playbacks...)
}

type FakeStream struct {
	mu    sync.Mutex
	stops int
}

func (s *FakeStream) Stop() {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
}

// Stops returns how many times Stop was called.
func (s *FakeStream) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type FakeCapture struct {
	rate          int
	cadence       time.Duration
	closeErr      error
	beforeConnect func()
	quit          chan struct{}

	mu        sync.Mutex
	onFrame   func([]float32)
	frameSize int
	closes    int
}

func (c *FakeCapture) SampleRate() int { return c.rate }

func (c *FakeCapture) Connect(stream CaptureStream, frameSize int, onFrame func([]float32)) error {
	if frameSize <= 0 {
		return core.NewInvalidRequestErrorWithParam("frame size must be positive", "frame_size")
	}
	if c.beforeConnect != nil {
		c.beforeConnect()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return core.NewDeviceError(core.DeviceNotReadable, "capture context closed", nil)
	}
	c.onFrame = onFrame
	c.frameSize = frameSize
	if c.cadence > 0 {
		go c.tick()
	}
	return nil
}

func (c *FakeCapture) tick() {
	t := time.NewTicker(c.cadence)
	defer t.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-t.C:
			c.mu.Lock()
			n := c.frameSize
			c.mu.Unlock()
			c.Emit(make([]float32, n))
		}
	}
}

// Connected reports whether a frame callback is wired.
func (c *FakeCapture) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onFrame != nil
}

// FrameSize returns the frame size requested by Connect.
func (c *FakeCapture) FrameSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameSize
}

// Emit delivers one frame as if the device produced it. Frames after Close are dropped.
func (c *FakeCapture) Emit(samples []float32) {
	c.mu.Lock()
	fn := c.onFrame
	closed := c.closes > 0
	c.mu.Unlock()
	if fn == nil || closed {
		return
	}
	fn(samples)
}

func (c *FakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closes == 1 {
		close(c.quit)
	}
	return c.closeErr
}

// Closes returns how many times Close was called.
func (c *FakeCapture) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

type FakePlayback struct {
	rate int

	mu      sync.Mutex
	now     float64
	sources []*FakeSource
	closes  int
}

func (p *FakePlayback) SampleRate() int { return p.rate }

func (p *FakePlayback) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// SetTime moves the output clock.
func (p *FakePlayback) SetTime(t float64) {
	p.mu.Lock()
	p.now = t
	p.mu.Unlock()
}

func (p *FakePlayback) NewBufferSource(buf *audio.Buffer) BufferSource {
	s := &FakeSource{Buffer: buf, StartAt: -1}
	p.mu.Lock()
	p.sources = append(p.sources, s)
	p.mu.Unlock()
	return s
}

// Sources returns every source created so far, in creation order.
func (p *FakePlayback) Sources() []*FakeSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*FakeSource(nil), p.sources...)
}

func (p *FakePlayback) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return nil
}

// Closes returns how many times Close was called.
func (p *FakePlayback) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// FakeSource records how it was scheduled.
type FakeSource struct {
	Buffer *audio.Buffer

	mu      sync.Mutex
	StartAt float64
	stopped bool
	ended   bool
	onEnded func()
}

func (s *FakeSource) Start(when float64) {
	s.mu.Lock()
	s.StartAt = when
	s.mu.Unlock()
}

func (s *FakeSource) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.End()
}

func (s *FakeSource) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// End fires the ended callback once, as natural completion would.
func (s *FakeSource) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Started returns the scheduled start time, or -1 if Start was never called.
func (s *FakeSource) Started() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartAt
}

// Stopped reports whether Stop was called.
func (s *FakeSource) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
