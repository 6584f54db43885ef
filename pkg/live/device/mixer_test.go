package device

import (
	"testing"

	"github.com/vango-go/shikkha/pkg/core/audio"
)

func monoBuffer(rate int, samples ...float32) *audio.Buffer {
	return &audio.Buffer{SampleRate: rate, Channels: [][]float32{samples}}
}

func TestMixer_RendersScheduledSourcesAtTheirStart(t *testing.T) {
	m := NewMixer(4)
	a := m.NewBufferSource(monoBuffer(4, 0.1, 0.2))
	b := m.NewBufferSource(monoBuffer(4, 0.5))
	a.Start(0)
	b.Start(0.75) // frame 3

	out := make([]float32, 4)
	m.Render(out)
	want := []float32{0.1, 0.2, 0, 0.5}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out=%v want %v", out, want)
		}
	}
	if got := m.CurrentTime(); got != 1 {
		t.Fatalf("CurrentTime()=%v, want 1", got)
	}
	if m.Active() != 0 {
		t.Fatalf("Active()=%d after both sources finished", m.Active())
	}
}

func TestMixer_SumsOverlappingSources(t *testing.T) {
	m := NewMixer(10)
	m.NewBufferSource(monoBuffer(10, 0.25, 0.25)).Start(0)
	m.NewBufferSource(monoBuffer(10, 0.5, 0.5)).Start(0)

	out := make([]float32, 2)
	m.Render(out)
	if out[0] != 0.75 || out[1] != 0.75 {
		t.Fatalf("out=%v", out)
	}
}

func TestMixer_PastStartPlaysImmediately(t *testing.T) {
	m := NewMixer(4)
	m.Render(make([]float32, 4))

	src := m.NewBufferSource(monoBuffer(4, 0.3))
	src.Start(0)
	out := make([]float32, 1)
	m.Render(out)
	if out[0] != 0.3 {
		t.Fatalf("out=%v, want immediate playback", out)
	}
}

func TestMixer_EndedFiresOnceOnCompletion(t *testing.T) {
	m := NewMixer(4)
	src := m.NewBufferSource(monoBuffer(4, 0.1, 0.1, 0.1))
	ended := 0
	src.OnEnded(func() { ended++ })
	src.Start(0)

	m.Render(make([]float32, 2))
	if ended != 0 {
		t.Fatalf("ended before completion")
	}
	m.Render(make([]float32, 2))
	m.Render(make([]float32, 2))
	if ended != 1 {
		t.Fatalf("ended=%d, want 1", ended)
	}
}

func TestMixer_StopCutsOffAndFiresEnded(t *testing.T) {
	m := NewMixer(4)
	src := m.NewBufferSource(monoBuffer(4, 1, 1, 1, 1))
	ended := 0
	src.OnEnded(func() { ended++ })
	src.Start(0)
	m.Render(make([]float32, 1))

	src.Stop()
	src.Stop()
	out := make([]float32, 3)
	m.Render(out)
	for _, v := range out {
		if v != 0 {
			t.Fatalf("out=%v after Stop", out)
		}
	}
	if ended != 1 {
		t.Fatalf("ended=%d, want 1", ended)
	}
}

func TestMixer_CloseSilences(t *testing.T) {
	m := NewMixer(4)
	m.NewBufferSource(monoBuffer(4, 1, 1)).Start(0)
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	out := []float32{9, 9}
	m.Render(out)
	if out[0] != 0 || out[1] != 0 {
		t.Fatalf("out=%v after Close", out)
	}
}

func TestDownmix_AveragesChannels(t *testing.T) {
	got := downmix(&audio.Buffer{SampleRate: 8000, Channels: [][]float32{{1, 0}, {0, 1}}})
	if len(got) != 2 || got[0] != 0.5 || got[1] != 0.5 {
		t.Fatalf("downmix=%v", got)
	}
}
