package device

import (
	"math"
	"sync"

	"github.com/vango-go/shikkha/pkg/core/audio"
)

// Mixer sums scheduled buffers into a mono output stream. Its clock advances
// only as frames are rendered, so CurrentTime tracks what the device has
// actually consumed.
type Mixer struct {
	rate int

	mu       sync.Mutex
	rendered int64
	sources  map[*mixerSource]struct{}
	closed   bool
}

// NewMixer returns a mixer producing samples at rate Hz.
func NewMixer(rate int) *Mixer {
	return &Mixer{
		rate:    rate,
		sources: make(map[*mixerSource]struct{}),
	}
}

func (m *Mixer) SampleRate() int { return m.rate }

// CurrentTime returns the number of rendered seconds.
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.rendered) / float64(m.rate)
}

// Active returns the number of sources started and not yet ended.
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// NewBufferSource wraps buf for scheduling on this mixer.
func (m *Mixer) NewBufferSource(buf *audio.Buffer) BufferSource {
	return &mixerSource{mixer: m, samples: downmix(buf)}
}

// Render fills out with the next len(out) frames and advances the clock.
// Sources that finish are removed and their ended callbacks run after the
// mixer lock is released.
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	var ended []*mixerSource
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	start := m.rendered
	end := start + int64(len(out))
	for src := range m.sources {
		srcEnd := src.startFrame + int64(len(src.samples))
		from := max(start, src.startFrame)
		to := min(end, srcEnd)
		for t := from; t < to; t++ {
			out[t-start] += src.samples[t-src.startFrame]
		}
		if srcEnd <= end {
			delete(m.sources, src)
			ended = append(ended, src)
		}
	}
	m.rendered = end
	m.mu.Unlock()

	for _, src := range ended {
		src.fireEnded()
	}
}

// Close drops every source without firing callbacks. Later renders produce silence.
func (m *Mixer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.sources = make(map[*mixerSource]struct{})
	m.mu.Unlock()
	return nil
}

func (m *Mixer) schedule(src *mixerSource, when float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	frame := int64(math.Round(when * float64(m.rate)))
	if frame < m.rendered {
		frame = m.rendered
	}
	src.startFrame = frame
	m.sources[src] = struct{}{}
}

func (m *Mixer) remove(src *mixerSource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[src]; !ok {
		return false
	}
	delete(m.sources, src)
	return true
}

type mixerSource struct {
	mixer      *Mixer
	samples    []float32
	startFrame int64

	mu      sync.Mutex
	started bool
	done    bool
	onEnded func()
}

func (s *mixerSource) Start(when float64) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if len(s.samples) == 0 {
		s.fireEnded()
		return
	}
	s.mixer.schedule(s, when)
}

func (s *mixerSource) Stop() {
	if s.mixer.remove(s) {
		s.fireEnded()
	}
}

func (s *mixerSource) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

func (s *mixerSource) fireEnded() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// downmix averages planar channels into one.
func downmix(buf *audio.Buffer) []float32 {
	if buf == nil || len(buf.Channels) == 0 {
		return nil
	}
	if len(buf.Channels) == 1 {
		return buf.Channels[0]
	}
	n := buf.Frames()
	out := make([]float32, n)
	scale := 1 / float32(len(buf.Channels))
	for _, ch := range buf.Channels {
		for i := 0; i < n && i < len(ch); i++ {
			out[i] += ch[i] * scale
		}
	}
	return out
}
