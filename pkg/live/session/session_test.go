package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/audio"
	"github.com/vango-go/shikkha/pkg/live/device"
	"github.com/vango-go/shikkha/pkg/live/protocol"
	"github.com/vango-go/shikkha/pkg/live/transport"
)

type fakeTransport struct {
	cfg transport.Config
	cb  transport.Callbacks

	// panicOnClose makes Close panic after counting the call.
	panicOnClose bool

	mu     sync.Mutex
	blobs  []audio.Blob
	closes int
}

func (f *fakeTransport) SendMedia(blob audio.Blob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closes > 0 {
		return transport.ErrClosed
	}
	f.blobs = append(f.blobs, blob)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	if f.panicOnClose {
		panic("transport close failed")
	}
}

func (f *fakeTransport) Blobs() []audio.Blob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audio.Blob(nil), f.blobs...)
}

func (f *fakeTransport) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type harness struct {
	devices *device.Fake
	conn    *fakeTransport
	authErr int
	dialErr error
	// open controls whether the dial fires OnOpen immediately.
	open   bool
	dialed chan struct{}

	mu     sync.Mutex
	states []LiveState
}

func newHarness() *harness {
	return &harness{devices: device.NewFake(), conn: &fakeTransport{}, open: true, dialed: make(chan struct{}, 4)}
}

func (h *harness) session(t *testing.T) *Session {
	t.Helper()
	s, err := New(Config{
		APIKey:         "test-key",
		Endpoint:       "wss://live.example/ws",
		Subject:        "Science",
		ConnectTimeout: 200 * time.Millisecond,
		Devices:        h.devices,
		Dial: func(ctx context.Context, cfg transport.Config, cb transport.Callbacks) (Transport, error) {
			if h.dialErr != nil {
				return nil, h.dialErr
			}
			h.conn.cfg = cfg
			h.conn.cb = cb
			if h.open {
				cb.OnOpen()
			}
			h.dialed <- struct{}{}
			return h.conn, nil
		},
		OnAuthError: func() { h.authErr++ },
		OnStateChange: func(st LiveState) {
			h.mu.Lock()
			h.states = append(h.states, st)
			h.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func (h *harness) assertReleasedOnce(t *testing.T) {
	t.Helper()
	for i, st := range h.devices.Streams() {
		if st.Stops() != 1 {
			t.Fatalf("stream %d stops=%d, want 1", i, st.Stops())
		}
	}
	for i, c := range h.devices.Captures() {
		if c.Closes() != 1 {
			t.Fatalf("capture %d closes=%d, want 1", i, c.Closes())
		}
	}
	for i, p := range h.devices.Playbacks() {
		if p.Closes() != 1 {
			t.Fatalf("playback %d closes=%d, want 1", i, p.Closes())
		}
	}
}

func pcm(frames int) []byte {
	return make([]byte, frames*2)
}

func TestStart_ActivatesAndSendsSetup(t *testing.T) {
	h := newHarness()
	s := h.session(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if st := s.State(); st.Phase != PhaseActive || !st.IsActive() {
		t.Fatalf("phase=%v, want active", st.Phase)
	}
	if !strings.HasPrefix(h.conn.cfg.URL, "wss://live.example/ws?") || !strings.Contains(h.conn.cfg.URL, "key=test-key") {
		t.Fatalf("url=%q", h.conn.cfg.URL)
	}
	setup := h.conn.cfg.Setup.Setup
	if setup.Model != "models/"+protocol.DefaultModel {
		t.Fatalf("model=%q", setup.Model)
	}
	if setup.SystemInstruction == nil || !strings.Contains(setup.SystemInstruction.Parts[0].Text, "Context: Science.") {
		t.Fatalf("system instruction=%+v", setup.SystemInstruction)
	}
	c := h.devices.Captures()[0]
	if !c.Connected() || c.FrameSize() != DefaultFrameSize || c.SampleRate() != DefaultCaptureRate {
		t.Fatalf("capture connected=%v frame=%d rate=%d", c.Connected(), c.FrameSize(), c.SampleRate())
	}
	if h.devices.Playbacks()[0].SampleRate() != DefaultPlaybackRate {
		t.Fatalf("playback rate=%d", h.devices.Playbacks()[0].SampleRate())
	}

	h.mu.Lock()
	first := h.states[0].Phase
	h.mu.Unlock()
	if first != PhaseConnecting {
		t.Fatalf("first emitted phase=%v, want connecting", first)
	}

	s.Stop()
}

func TestStart_RejectsWhenNotIdle(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start() error = %v, want ErrBusy", err)
	}
}

func TestCapturedFrameBecomesOneMediaBlob(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	frame := make([]float32, 4096)
	frame[0] = 0.5
	h.devices.Captures()[0].Emit(frame)

	blobs := h.conn.Blobs()
	if len(blobs) != 1 {
		t.Fatalf("blobs=%d, want 1", len(blobs))
	}
	if blobs[0].MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("mime=%q", blobs[0].MIMEType)
	}
	raw, err := audio.DecodeText(blobs[0].Data)
	if err != nil {
		t.Fatalf("DecodeText() error = %v", err)
	}
	if len(raw) != 8192 {
		t.Fatalf("payload=%d bytes, want 8192", len(raw))
	}
	if s.State().InputLevel <= 0 {
		t.Fatalf("input level not updated")
	}
}

func TestTranscriptsAccumulateAndClearOnTurnComplete(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	h.conn.cb.OnMessage([]protocol.Event{protocol.Transcription{Output: true, Text: "a"}})
	h.conn.cb.OnMessage([]protocol.Event{protocol.Transcription{Output: true, Text: "b"}})
	h.conn.cb.OnMessage([]protocol.Event{
		protocol.Transcription{Output: true, Text: "c"},
		protocol.Transcription{Text: "hello"},
	})
	st := s.State()
	if st.AITranscript != "abc" || st.UserTranscript != "hello" {
		t.Fatalf("ai=%q user=%q", st.AITranscript, st.UserTranscript)
	}

	h.conn.cb.OnMessage([]protocol.Event{protocol.TurnComplete{}})
	st = s.State()
	if st.AITranscript != "" || st.UserTranscript != "" {
		t.Fatalf("transcripts not cleared: %+v", st)
	}
}

func TestAudioChunksScheduleGaplessAndInterruptStops(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()
	pb := h.devices.Playbacks()[0]
	pb.SetTime(2)

	h.conn.cb.OnMessage([]protocol.Event{
		protocol.AudioChunk{Data: pcm(12000), SampleRate: 24000},
		protocol.AudioChunk{Data: pcm(12000), SampleRate: 24000},
	})
	srcs := pb.Sources()
	if len(srcs) != 2 {
		t.Fatalf("sources=%d, want 2", len(srcs))
	}
	if srcs[0].Started() != 2 || srcs[1].Started() != 2.5 {
		t.Fatalf("starts=%v,%v want 2,2.5", srcs[0].Started(), srcs[1].Started())
	}

	h.conn.cb.OnMessage([]protocol.Event{protocol.Interrupted{}})
	for i, src := range pb.Sources() {
		if !src.Stopped() {
			t.Fatalf("source %d not stopped", i)
		}
	}

	pb.SetTime(3)
	h.conn.cb.OnMessage([]protocol.Event{protocol.AudioChunk{Data: pcm(2400), SampleRate: 24000}})
	if got := pb.Sources()[2].Started(); got != 3 {
		t.Fatalf("post-interrupt start=%v, want 3", got)
	}
}

func TestAudioDecodeErrorIsDropped(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	h.conn.cb.OnMessage([]protocol.Event{protocol.ErrorEvent{Code: "audio_decode", Message: "bad base64"}})
	if s.State().Phase != PhaseActive {
		t.Fatalf("phase=%v, want active", s.State().Phase)
	}
	if h.authErr != 0 {
		t.Fatalf("auth callback fired for a decode error")
	}
}

func TestStop_IdleIsNoop(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	s.Stop()
	s.Stop()
	if s.State().Phase != PhaseIdle {
		t.Fatalf("phase=%v", s.State().Phase)
	}
	h.mu.Lock()
	n := len(h.states)
	h.mu.Unlock()
	if n != 0 {
		t.Fatalf("emitted %d states for a no-op stop", n)
	}
}

func TestStop_ReleasesEverythingOnce(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.conn.cb.OnMessage([]protocol.Event{protocol.Transcription{Text: "hi"}})

	s.Stop()
	s.Stop()

	st := s.State()
	if st.Phase != PhaseIdle || st.UserTranscript != "" {
		t.Fatalf("state after stop=%+v", st)
	}
	if h.conn.Closes() != 1 {
		t.Fatalf("transport closes=%d, want 1", h.conn.Closes())
	}
	h.assertReleasedOnce(t)

	h.devices.Captures()[0].Emit(make([]float32, 4096))
	if len(h.conn.Blobs()) != 0 {
		t.Fatalf("frame sent after stop")
	}
	h.conn.cb.OnMessage([]protocol.Event{protocol.Transcription{Text: "late"}})
	if s.State().UserTranscript != "" {
		t.Fatalf("late event applied after stop")
	}
}

func TestStart_MicrophoneErrorReleasesNothingExtra(t *testing.T) {
	h := newHarness()
	h.devices.MicErr = core.NewDeviceError(core.DeviceNotFound, "no microphone", nil)
	s := h.session(t)

	err := s.Start(context.Background())
	if !core.IsType(err, core.ErrDevice) {
		t.Fatalf("Start() error = %v, want device error", err)
	}
	if s.State().Phase != PhaseIdle {
		t.Fatalf("phase=%v", s.State().Phase)
	}
	if len(h.devices.Captures()) != 0 || len(h.devices.Playbacks()) != 0 {
		t.Fatalf("contexts created after mic failure")
	}
}

func TestStart_PlaybackErrorReleasesAcquired(t *testing.T) {
	h := newHarness()
	h.devices.PlaybackErr = errors.New("output busy")
	s := h.session(t)

	err := s.Start(context.Background())
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Type != core.ErrDevice || cerr.Code != core.DeviceNotReadable {
		t.Fatalf("Start() error = %v, want not_readable device error", err)
	}
	h.assertReleasedOnce(t)
	if len(h.devices.Streams()) != 1 || len(h.devices.Captures()) != 1 {
		t.Fatalf("expected stream and capture to have been acquired")
	}
	if s.State().Phase != PhaseIdle {
		t.Fatalf("phase=%v", s.State().Phase)
	}
}

func TestStart_CredentialDialErrorNotifies(t *testing.T) {
	h := newHarness()
	h.dialErr = core.NewCredentialError("API key not valid", nil)
	s := h.session(t)

	err := s.Start(context.Background())
	if !core.IsType(err, core.ErrCredential) {
		t.Fatalf("Start() error = %v, want credential error", err)
	}
	if h.authErr != 1 {
		t.Fatalf("auth callbacks=%d, want 1", h.authErr)
	}
	h.assertReleasedOnce(t)
}

func TestStart_TimesOutWhenNeverOpened(t *testing.T) {
	h := newHarness()
	h.open = false
	s := h.session(t)

	err := s.Start(context.Background())
	if !core.IsType(err, core.ErrTimeout) {
		t.Fatalf("Start() error = %v, want timeout", err)
	}
	if h.conn.Closes() != 1 {
		t.Fatalf("transport closes=%d", h.conn.Closes())
	}
	h.assertReleasedOnce(t)
	if s.State().Phase != PhaseIdle {
		t.Fatalf("phase=%v", s.State().Phase)
	}
}

func TestStart_StopWhileConnecting(t *testing.T) {
	h := newHarness()
	h.open = false
	s := h.session(t)
	s.cfg.ConnectTimeout = 5 * time.Second

	errc := make(chan error, 1)
	go func() { errc <- s.Start(context.Background()) }()

	<-h.dialed
	s.Stop()

	err := <-errc
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Start() error = %v, want ErrStopped", err)
	}
	h.assertReleasedOnce(t)
}

func TestStart_StopBeforeCaptureConnectIsNotADeviceError(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	h.devices.BeforeConnect = func() { s.Stop() }

	err := s.Start(context.Background())
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Start() error = %v, want ErrStopped", err)
	}
	if core.IsType(err, core.ErrDevice) {
		t.Fatalf("user stop reported as device error: %v", err)
	}
	if s.State().Phase != PhaseIdle {
		t.Fatalf("phase=%v", s.State().Phase)
	}
	h.assertReleasedOnce(t)
	if h.conn.Closes() != 1 {
		t.Fatalf("transport closes=%d, want 1", h.conn.Closes())
	}
}

func TestStop_BeforeFirstStartDisposes(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Start() after Stop error = %v, want ErrStopped", err)
	}
	if len(h.devices.Streams()) != 0 || len(h.dialed) != 0 {
		t.Fatalf("disposed session acquired resources")
	}
}

func TestStop_TeardownStepsSurviveFailures(t *testing.T) {
	h := newHarness()
	h.conn.panicOnClose = true
	h.devices.CaptureCloseErr = errors.New("capture device busy")
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.Stop()
	s.Stop()

	if s.State().Phase != PhaseIdle {
		t.Fatalf("phase=%v, want idle", s.State().Phase)
	}
	if h.conn.Closes() != 1 {
		t.Fatalf("transport closes=%d, want 1", h.conn.Closes())
	}
	h.assertReleasedOnce(t)

	// The session stays usable after a messy teardown.
	h.conn = &fakeTransport{}
	h.devices.CaptureCloseErr = nil
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	s.Stop()
	if h.conn.Closes() != 1 || len(h.devices.Streams()) != 2 {
		t.Fatalf("restart closes=%d streams=%d", h.conn.Closes(), len(h.devices.Streams()))
	}
}

func TestServerCloseReturnsToIdle(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.conn.cb.OnClose(1000, "bye")

	if s.State().Phase != PhaseIdle {
		t.Fatalf("phase=%v", s.State().Phase)
	}
	if h.authErr != 0 {
		t.Fatalf("auth callback on a normal close")
	}
	h.assertReleasedOnce(t)
}

func TestTransportErrorNotifiesAndStops(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.conn.cb.OnError(core.NewTransportError("connection reset", nil))
	h.conn.cb.OnError(core.NewTransportError("connection reset", nil))

	if s.State().Phase != PhaseIdle {
		t.Fatalf("phase=%v", s.State().Phase)
	}
	if h.authErr != 1 {
		t.Fatalf("auth callbacks=%d, want 1", h.authErr)
	}
	h.assertReleasedOnce(t)
}

func TestRestartAfterStopUsesFreshResources(t *testing.T) {
	h := newHarness()
	s := h.session(t)
	for i := 0; i < 2; i++ {
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() #%d error = %v", i, err)
		}
		s.Stop()
	}
	if len(h.devices.Streams()) != 2 {
		t.Fatalf("streams=%d, want 2", len(h.devices.Streams()))
	}
	h.assertReleasedOnce(t)
}

func TestSystemInstruction(t *testing.T) {
	got := SystemInstruction("Mathematics")
	want := "You are a helpful study tutor named ShikkhaAI. Support both English and Bengali. Context: Mathematics."
	if got != want {
		t.Fatalf("got %q", got)
	}
}
