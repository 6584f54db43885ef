package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vango-go/shikkha/pkg/core/audio"
	"github.com/vango-go/shikkha/pkg/live/device"
	"github.com/vango-go/shikkha/pkg/live/session"
	"github.com/vango-go/shikkha/pkg/live/transport"
)

type nopTransport struct {
	closes atomic.Int64
}

func (n *nopTransport) SendMedia(audio.Blob) error { return nil }
func (n *nopTransport) Close()                     { n.closes.Add(1) }

func config(devices *device.Fake, conns *[]*nopTransport) session.Config {
	var mu sync.Mutex
	return session.Config{
		APIKey:   "k",
		Endpoint: "wss://live.example/ws",
		Devices:  devices,
		Dial: func(ctx context.Context, cfg transport.Config, cb transport.Callbacks) (session.Transport, error) {
			c := &nopTransport{}
			mu.Lock()
			*conns = append(*conns, c)
			mu.Unlock()
			cb.OnOpen()
			return c, nil
		},
	}
}

func assertAllReleasedOnce(t *testing.T, devices *device.Fake, conns []*nopTransport) {
	t.Helper()
	for i, st := range devices.Streams() {
		if st.Stops() != 1 {
			t.Fatalf("stream %d stops=%d, want 1", i, st.Stops())
		}
	}
	for i, c := range devices.Captures() {
		if c.Closes() != 1 {
			t.Fatalf("capture %d closes=%d, want 1", i, c.Closes())
		}
	}
	for i, p := range devices.Playbacks() {
		if p.Closes() != 1 {
			t.Fatalf("playback %d closes=%d, want 1", i, p.Closes())
		}
	}
	for i, c := range conns {
		if n := c.closes.Load(); n != 1 {
			t.Fatalf("transport %d closes=%d, want 1", i, n)
		}
	}
}

func TestManager_SecondStartSupersedesFirst(t *testing.T) {
	devices := device.NewFake()
	var conns []*nopTransport
	m := NewManager()

	first, err := m.Start(context.Background(), config(devices, &conns))
	if err != nil {
		t.Fatalf("Start() #1 error = %v", err)
	}
	second, err := m.Start(context.Background(), config(devices, &conns))
	if err != nil {
		t.Fatalf("Start() #2 error = %v", err)
	}

	if first.State().Phase != session.PhaseIdle {
		t.Fatalf("first phase=%v, want idle", first.State().Phase)
	}
	if second.State().Phase != session.PhaseActive || m.Current() != second {
		t.Fatalf("second not current and active")
	}
	if devices.Streams()[0].Stops() != 1 || devices.Captures()[0].Closes() != 1 || devices.Playbacks()[0].Closes() != 1 {
		t.Fatalf("first session resources not released once")
	}
	if conns[0].closes.Load() != 1 {
		t.Fatalf("first transport closes=%d", conns[0].closes.Load())
	}

	m.Stop()
	m.Stop()
	for i := range devices.Streams() {
		if devices.Streams()[i].Stops() != 1 || devices.Captures()[i].Closes() != 1 || devices.Playbacks()[i].Closes() != 1 {
			t.Fatalf("session %d resources not released exactly once", i)
		}
	}
	if m.Current() != nil || m.State().Phase != session.PhaseIdle {
		t.Fatalf("manager not idle after stop")
	}
}

func TestManager_FailedStartLeavesNoCurrent(t *testing.T) {
	devices := device.NewFake()
	devices.MicErr = errors.New("no input device")
	var conns []*nopTransport
	m := NewManager()

	if _, err := m.Start(context.Background(), config(devices, &conns)); err == nil {
		t.Fatalf("expected error")
	}
	if m.Current() != nil {
		t.Fatalf("failed session left as current")
	}
	if len(conns) != 0 {
		t.Fatalf("dialed despite device failure")
	}
}

func TestManager_NilIsSafe(t *testing.T) {
	var m *Manager
	m.Stop()
	if m.Current() != nil {
		t.Fatalf("nil manager has a session")
	}
}

func TestManager_StopRacingStartLeavesNothingUntracked(t *testing.T) {
	devices := device.NewFake()
	var conns []*nopTransport
	cfg := config(devices, &conns)
	m := NewManager()

	for i := 0; i < 500; i++ {
		var (
			wg       sync.WaitGroup
			started  *session.Session
			startErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			started, startErr = m.Start(context.Background(), cfg)
		}()
		go func() {
			defer wg.Done()
			m.Stop()
		}()
		wg.Wait()

		if startErr == nil && started.State().Phase == session.PhaseActive && m.Current() != started {
			t.Fatalf("round %d: active session is not tracked by the manager", i)
		}
		if startErr != nil && !errors.Is(startErr, session.ErrStopped) {
			t.Fatalf("round %d: Start() error = %v", i, startErr)
		}
		m.Stop()
		if m.Current() != nil {
			t.Fatalf("round %d: manager kept a session after Stop", i)
		}
	}
	assertAllReleasedOnce(t, devices, conns)
}

func TestManager_ConcurrentStartsKeepOneActive(t *testing.T) {
	devices := device.NewFake()
	var conns []*nopTransport
	cfg := config(devices, &conns)
	m := NewManager()

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		results := make([]*session.Session, 2)
		for j := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[j], _ = m.Start(context.Background(), cfg)
			}()
		}
		wg.Wait()

		active := 0
		for _, s := range results {
			if s != nil && s.State().Phase == session.PhaseActive {
				active++
				if m.Current() != s {
					t.Fatalf("round %d: active session is not current", i)
				}
			}
		}
		if active > 1 {
			t.Fatalf("round %d: %d active sessions", i, active)
		}
		m.Stop()
	}
	assertAllReleasedOnce(t, devices, conns)
}
