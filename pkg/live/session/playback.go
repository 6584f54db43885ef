package session

import (
	"sync"

	"github.com/vango-go/shikkha/pkg/core/audio"
	"github.com/vango-go/shikkha/pkg/live/device"
)

// scheduler queues model audio back to back on the playback clock. Each chunk
// starts at max(cursor, now), so streamed chunks play without gaps or overlap
// regardless of arrival jitter.
type scheduler struct {
	out device.PlaybackContext

	mu     sync.Mutex
	cursor float64
	active map[device.BufferSource]struct{}
}

func newScheduler(out device.PlaybackContext) *scheduler {
	return &scheduler{
		out:    out,
		active: make(map[device.BufferSource]struct{}),
	}
}

// Schedule starts buf at the next free slot and returns its start time.
func (p *scheduler) Schedule(buf *audio.Buffer) float64 {
	p.mu.Lock()
	start := max(p.cursor, p.out.CurrentTime())
	src := p.out.NewBufferSource(buf)
	p.active[src] = struct{}{}
	p.cursor = start + buf.Duration()
	p.mu.Unlock()

	src.OnEnded(func() {
		p.mu.Lock()
		delete(p.active, src)
		p.mu.Unlock()
	})
	src.Start(start)
	return start
}

// Interrupt cuts off everything queued or playing and rewinds the cursor.
func (p *scheduler) Interrupt() int {
	p.mu.Lock()
	stopped := make([]device.BufferSource, 0, len(p.active))
	for src := range p.active {
		stopped = append(stopped, src)
	}
	p.active = make(map[device.BufferSource]struct{})
	p.cursor = 0
	p.mu.Unlock()

	for _, src := range stopped {
		src.Stop()
	}
	return len(stopped)
}

// Active returns the number of sources that have not ended.
func (p *scheduler) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Cursor returns the time the next chunk may start at the earliest.
func (p *scheduler) Cursor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}
