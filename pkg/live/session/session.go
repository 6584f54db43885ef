// Package session orchestrates a live voice tutoring session: it streams
// microphone frames to the model, plays streamed audio replies on a gapless
// schedule, accumulates transcripts, and tears every resource down when the
// user or the transport ends the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/audio"
	"github.com/vango-go/shikkha/pkg/core/types"
	"github.com/vango-go/shikkha/pkg/live/device"
	"github.com/vango-go/shikkha/pkg/live/protocol"
	"github.com/vango-go/shikkha/pkg/live/transport"
)

const (
	DefaultCaptureRate    = 16000
	DefaultPlaybackRate   = 24000
	DefaultFrameSize      = 4096
	DefaultConnectTimeout = 15 * time.Second
)

var (
	// ErrBusy is returned by Start when the session is not idle.
	ErrBusy = errors.New("live session already running")
	// ErrStopped is returned by Start when Stop ran before the session opened.
	ErrStopped = errors.New("live session stopped before it opened")
)

// Transport is the duplex channel a session streams over.
type Transport interface {
	SendMedia(blob audio.Blob) error
	Close()
}

// DialFunc opens a Transport. The default dials the Gemini Live websocket.
type DialFunc func(ctx context.Context, cfg transport.Config, cb transport.Callbacks) (Transport, error)

// DialWebsocket is the DialFunc backed by pkg/live/transport.
func DialWebsocket(ctx context.Context, cfg transport.Config, cb transport.Callbacks) (Transport, error) {
	conn, err := transport.Dial(ctx, cfg, cb)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Subject  types.Subject

	CaptureRate    int
	PlaybackRate   int
	FrameSize      int
	ConnectTimeout time.Duration

	Devices device.Devices
	Dial    DialFunc

	// OnAuthError runs when the credential may be invalid: a rejected
	// connect, or any transport error once connected.
	OnAuthError   func()
	OnStateChange func(LiveState)
	Logger        *slog.Logger
}

// SystemInstruction is the live tutor persona for subject.
func SystemInstruction(subject types.Subject) string {
	if subject == "" {
		subject = types.SubjectGeneral
	}
	return fmt.Sprintf("You are a helpful study tutor named ShikkhaAI. Support both English and Bengali. Context: %s.", subject)
}

// Session owns one live conversation at a time. All methods are safe for
// concurrent use.
type Session struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	phase          Phase
	userTranscript string
	aiTranscript   string
	level          float64
	res            *resources
	onState        func(LiveState)

	// started is set by the first Start. A Stop before that disposes the
	// session so a late Start cannot bring it up untracked.
	started  bool
	disposed bool
}

// resources are the handles acquired for one Start. They are released
// exactly once, by teardown.
type resources struct {
	id string

	stream   device.CaptureStream
	capture  device.CaptureContext
	playback device.PlaybackContext
	conn     Transport
	sched    *scheduler

	opened   chan struct{}
	openOnce sync.Once
	stopped  chan struct{}
	closed   bool
	cause    error
}

// New validates cfg and returns an idle session.
func New(cfg Config) (*Session, error) {
	if cfg.Devices == nil {
		return nil, core.NewInvalidRequestErrorWithParam("audio devices are required", "devices")
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebsocket
	}
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = DefaultCaptureRate
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Model == "" {
		cfg.Model = protocol.DefaultModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger.With("component", "live_session"),
		onState: cfg.OnStateChange,
	}, nil
}

// OnStateChange replaces the state observer.
func (s *Session) OnStateChange(fn func(LiveState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns a snapshot of the session.
func (s *Session) State() LiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Start acquires the microphone and both audio contexts, dials the model, and
// blocks until the session is active or has failed. It is only valid from Idle.
//
// On failure every acquired resource has been released and the session is
// Idle again. Device failures return a device_error; a rejected credential
// returns a credential_error after OnAuthError ran; exceeding ConnectTimeout
// returns a timeout_error.
func (s *Session) Start(ctx context.Context) error {
	res := &resources{
		id:      uuid.NewString(),
		opened:  make(chan struct{}),
		stopped: make(chan struct{}),
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.started = true
	s.res = res
	s.phase = PhaseConnecting
	s.userTranscript, s.aiTranscript, s.level = "", "", 0
	snap, notify := s.snapshotLocked(), s.onState
	s.mu.Unlock()
	emit(notify, snap)

	logger := s.logger.With("session_id", res.id)
	logger.Info("live session connecting", "subject", s.cfg.Subject, "model", s.cfg.Model)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.acquire(connectCtx, res); err != nil {
		return s.abort(ctx, res, err, logger)
	}

	url, err := protocol.ClientURL(s.cfg.Endpoint, s.cfg.APIKey)
	if err != nil {
		return s.abort(ctx, res, err, logger)
	}
	conn, err := s.cfg.Dial(connectCtx, transport.Config{
		URL:    url,
		Setup:  protocol.NewSetup(s.cfg.Model, SystemInstruction(s.cfg.Subject)),
		Logger: logger,
	}, s.callbacks(res, logger))
	if err != nil {
		if core.IsType(err, core.ErrCredential) {
			s.authError()
		}
		return s.abort(ctx, res, err, logger)
	}
	if !s.attach(res, func() { res.conn = conn }) {
		conn.Close()
		return s.stoppedErr(res)
	}

	select {
	case <-res.opened:
	case <-res.stopped:
		return s.stoppedErr(res)
	case <-connectCtx.Done():
		return s.abort(ctx, res, nil, logger)
	}

	if err := res.capture.Connect(res.stream, s.cfg.FrameSize, func(frame []float32) {
		s.sendFrame(res, frame, logger)
	}); err != nil {
		if !s.current(res) {
			return s.stoppedErr(res)
		}
		return s.abort(ctx, res, err, logger)
	}

	s.mu.Lock()
	if s.res != res || s.phase != PhaseConnecting {
		s.mu.Unlock()
		return s.stoppedErr(res)
	}
	s.phase = PhaseActive
	snap, notify = s.snapshotLocked(), s.onState
	s.mu.Unlock()
	emit(notify, snap)

	logger.Info("live session active")
	return nil
}

// Stop ends the session from any phase. It is idempotent and a no-op when
// Idle. The transport closes asynchronously; the microphone and both audio
// contexts are released before Stop returns, and the state is Idle on return.
// Stopping a session that was never started disposes it: Start then returns
// ErrStopped.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.disposed = true
	}
	s.mu.Unlock()
	s.teardown(nil)
}

func (s *Session) acquire(ctx context.Context, res *resources) error {
	stream, err := s.cfg.Devices.OpenMicrophone(ctx)
	if err != nil {
		return asDeviceError(err, "open microphone")
	}
	if !s.attach(res, func() { res.stream = stream }) {
		stream.Stop()
		return ErrStopped
	}

	capture, err := s.cfg.Devices.NewCaptureContext(s.cfg.CaptureRate)
	if err != nil {
		return asDeviceError(err, "create capture context")
	}
	if !s.attach(res, func() { res.capture = capture }) {
		_ = capture.Close()
		return ErrStopped
	}

	playback, err := s.cfg.Devices.NewPlaybackContext(s.cfg.PlaybackRate)
	if err != nil {
		return asDeviceError(err, "create playback context")
	}
	if !s.attach(res, func() {
		res.playback = playback
		res.sched = newScheduler(playback)
	}) {
		_ = playback.Close()
		return ErrStopped
	}
	return nil
}

func (s *Session) callbacks(res *resources, logger *slog.Logger) transport.Callbacks {
	return transport.Callbacks{
		OnOpen: func() {
			res.openOnce.Do(func() { close(res.opened) })
		},
		OnMessage: func(events []protocol.Event) {
			s.handleEvents(res, events, logger)
		},
		OnClose: func(code int, reason string) {
			logger.Info("live session closed by server", "code", code, "reason", reason)
			s.setCause(res, core.NewTransportError(fmt.Sprintf("live session closed by server (code %d)", code), nil))
			s.teardown(res)
		},
		OnError: func(err error) {
			s.fail(res, err, logger)
		},
	}
}

func (s *Session) fail(res *resources, err error, logger *slog.Logger) {
	if !s.current(res) {
		return
	}
	logger.Error("live session error", "error", err)
	s.setCause(res, err)
	s.authError()
	s.teardown(res)
}

func (s *Session) handleEvents(res *resources, events []protocol.Event, logger *slog.Logger) {
	for _, ev := range events {
		switch e := ev.(type) {
		case protocol.Transcription:
			s.update(res, func() {
				if e.Output {
					s.aiTranscript += e.Text
				} else {
					s.userTranscript += e.Text
				}
			})
		case protocol.TurnComplete:
			s.update(res, func() {
				s.userTranscript, s.aiTranscript = "", ""
			})
		case protocol.AudioChunk:
			if !s.current(res) {
				return
			}
			if e.SampleRate != s.cfg.PlaybackRate {
				logger.Debug("model audio rate differs from playback rate", "chunk_rate", e.SampleRate, "playback_rate", s.cfg.PlaybackRate)
			}
			buf, err := audio.PCM16ToBuffer(e.Data, s.cfg.PlaybackRate, 1)
			if err != nil {
				logger.Warn("dropping undecodable audio chunk", "error", err)
				continue
			}
			res.sched.Schedule(buf)
		case protocol.Interrupted:
			if !s.current(res) {
				return
			}
			n := res.sched.Interrupt()
			logger.Debug("playback interrupted", "stopped_sources", n)
		case protocol.GoAway:
			logger.Warn("live server going away", "time_left", e.TimeLeft)
		case protocol.ErrorEvent:
			if e.Code == "audio_decode" {
				logger.Warn("dropping undecodable audio chunk", "error", e.Message)
				continue
			}
			s.fail(res, core.NewTransportError(fmt.Sprintf("live server error %s: %s", e.Code, e.Message), nil), logger)
			return
		}
	}
}

func (s *Session) sendFrame(res *resources, frame []float32, logger *slog.Logger) {
	blob := audio.NewBlob(frame, s.cfg.CaptureRate)
	level := audio.RMS(frame)

	s.mu.Lock()
	if s.res != res || res.closed {
		s.mu.Unlock()
		return
	}
	conn := res.conn
	s.level = level
	snap, notify := s.snapshotLocked(), s.onState
	s.mu.Unlock()

	if err := conn.SendMedia(blob); err != nil {
		switch {
		case errors.Is(err, transport.ErrBackpressure):
			logger.Debug("capture frame dropped", "error", err)
		case errors.Is(err, transport.ErrClosed):
		default:
			logger.Warn("capture frame send failed", "error", err)
		}
	}
	emit(notify, snap)
}

// teardown releases res, or the current resources when res is nil. Each
// release step runs even if an earlier one fails.
func (s *Session) teardown(res *resources) {
	s.mu.Lock()
	if s.res == nil || (res != nil && s.res != res) || s.phase == PhaseIdle {
		s.mu.Unlock()
		return
	}
	res = s.res
	s.phase = PhaseClosing
	res.closed = true
	conn, stream, capture, playback := res.conn, res.stream, res.capture, res.playback
	s.mu.Unlock()

	var errs []error
	guard := func(step string, fn func() error) {
		defer func() {
			if r := recover(); r != nil {
				errs = append(errs, fmt.Errorf("%s: panic: %v", step, r))
			}
		}()
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step, err))
		}
	}
	if conn != nil {
		guard("close transport", func() error { conn.Close(); return nil })
	}
	if stream != nil {
		guard("stop microphone", func() error { stream.Stop(); return nil })
	}
	if capture != nil {
		guard("close capture context", capture.Close)
	}
	if playback != nil {
		guard("close playback context", playback.Close)
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("live session teardown incomplete", "session_id", res.id, "error", err)
	}

	s.mu.Lock()
	if s.res == res {
		s.res = nil
	}
	s.phase = PhaseIdle
	s.userTranscript, s.aiTranscript, s.level = "", "", 0
	snap, notify := s.snapshotLocked(), s.onState
	s.mu.Unlock()
	close(res.stopped)

	s.logger.Info("live session stopped", "session_id", res.id)
	emit(notify, snap)
}

// abort tears res down after a failed Start and picks the error to return.
func (s *Session) abort(parent context.Context, res *resources, err error, logger *slog.Logger) error {
	if err == nil {
		if perr := parent.Err(); perr != nil {
			err = perr
		} else {
			err = core.NewTimeoutError(fmt.Sprintf("live session did not open within %s", s.cfg.ConnectTimeout))
		}
	}
	if errors.Is(err, ErrStopped) {
		return s.stoppedErr(res)
	}
	logger.Warn("live session failed to start", "error", err)
	s.setCause(res, err)
	s.teardown(res)
	return err
}

func (s *Session) stoppedErr(res *resources) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.cause != nil {
		return res.cause
	}
	return ErrStopped
}

func (s *Session) setCause(res *resources, err error) {
	s.mu.Lock()
	if res.cause == nil {
		res.cause = err
	}
	s.mu.Unlock()
}

// attach stores a freshly acquired handle unless res was already torn down.
func (s *Session) attach(res *resources, set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.closed || s.res != res {
		return false
	}
	set()
	return true
}

func (s *Session) current(res *resources) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res == res && !res.closed
}

func (s *Session) update(res *resources, fn func()) {
	s.mu.Lock()
	if s.res != res || res.closed {
		s.mu.Unlock()
		return
	}
	fn()
	snap, notify := s.snapshotLocked(), s.onState
	s.mu.Unlock()
	emit(notify, snap)
}

func (s *Session) authError() {
	if s.cfg.OnAuthError != nil {
		s.cfg.OnAuthError()
	}
}

func (s *Session) snapshotLocked() LiveState {
	return LiveState{
		Phase:          s.phase,
		UserTranscript: s.userTranscript,
		AITranscript:   s.aiTranscript,
		InputLevel:     s.level,
	}
}

func emit(fn func(LiveState), st LiveState) {
	if fn != nil {
		fn(st)
	}
}

func asDeviceError(err error, step string) error {
	if core.IsType(err, core.ErrDevice) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewDeviceError(core.DeviceNotReadable, step, err)
}
