package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/vango-go/shikkha/pkg/core"
)

// Malgo opens real audio hardware through miniaudio.
type Malgo struct {
	logger *slog.Logger
}

// NewMalgo returns hardware-backed Devices.
func NewMalgo(logger *slog.Logger) *Malgo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Malgo{logger: logger}
}

func (d *Malgo) OpenMicrophone(ctx context.Context) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("audio backend unavailable", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, classifyDeviceError("list capture devices", err)
	}
	if len(infos) == 0 {
		return nil, core.NewDeviceError(core.DeviceNotFound, "no microphone found", nil)
	}
	chosen := infos[0]
	for _, info := range infos {
		if info.IsDefault != 0 {
			chosen = info
			break
		}
	}

	// Open without starting so a denied or busy microphone fails here,
	// before the session dials.
	id := chosen.ID
	opened, err := malgo.InitDevice(mctx.Context, captureConfig(&id, 0), malgo.DeviceCallbacks{})
	if err != nil {
		return nil, classifyDeviceError(fmt.Sprintf("open microphone %q", chosen.Name()), err)
	}
	opened.Uninit()

	d.logger.Debug("microphone selected", "device", chosen.Name())
	return &malgoStream{id: chosen.ID, name: chosen.Name()}, nil
}

func (d *Malgo) NewCaptureContext(sampleRate int) (CaptureContext, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("init capture context", err)
	}
	return &malgoCapture{rate: sampleRate, ctx: mctx}, nil
}

func (d *Malgo) NewPlaybackContext(sampleRate int) (PlaybackContext, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("init playback context", err)
	}
	p := &malgoPlayback{Mixer: NewMixer(sampleRate), ctx: mctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frames uint32) {
			if cap(p.scratch) < int(frames) {
				p.scratch = make([]float32, frames)
			}
			buf := p.scratch[:frames]
			p.Mixer.Render(buf)
			encodeF32(out, buf)
		},
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classifyDeviceError("open speaker", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classifyDeviceError("start speaker", err)
	}
	p.device = dev
	return p, nil
}

type malgoStream struct {
	id   malgo.DeviceID
	name string

	mu      sync.Mutex
	stopped bool
	device  *malgo.Device
}

func (s *malgoStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.device != nil {
		_ = s.device.Stop()
	}
}

func (s *malgoStream) attach(dev *malgo.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return core.NewDeviceError(core.DeviceNotReadable, "microphone stream already stopped", nil)
	}
	s.device = dev
	return nil
}

type malgoCapture struct {
	rate int
	ctx  *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device
	closed bool
}

func (c *malgoCapture) SampleRate() int { return c.rate }

func (c *malgoCapture) Connect(stream CaptureStream, frameSize int, onFrame func([]float32)) error {
	ms, ok := stream.(*malgoStream)
	if !ok {
		return core.NewInvalidRequestError(fmt.Sprintf("capture stream %T was not opened by this backend", stream))
	}
	if frameSize <= 0 {
		return core.NewInvalidRequestErrorWithParam("frame size must be positive", "frame_size")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.NewDeviceError(core.DeviceNotReadable, "capture context closed", nil)
	}
	if c.device != nil {
		return core.NewInvalidRequestError("capture context already connected")
	}

	cfg := captureConfig(&ms.id, c.rate)
	fr := newFramer(frameSize, onFrame)
	var scratch []float32
	dev, err := malgo.InitDevice(c.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			scratch = decodeF32(in, scratch)
			fr.push(scratch)
		},
	})
	if err != nil {
		return classifyDeviceError(fmt.Sprintf("open microphone %q", ms.name), err)
	}
	if err := ms.attach(dev); err != nil {
		dev.Uninit()
		return err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return classifyDeviceError(fmt.Sprintf("start microphone %q", ms.name), err)
	}
	c.device = dev
	return nil
}

func (c *malgoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	return err
}

type malgoPlayback struct {
	*Mixer
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	scratch   []float32
	closeOnce sync.Once
}

func (p *malgoPlayback) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.device.Uninit()
		_ = p.Mixer.Close()
		err = p.ctx.Uninit()
		p.ctx.Free()
	})
	return err
}

// captureConfig is an F32 mono capture on id. A zero rate keeps the
// device's native rate.
func captureConfig(id *malgo.DeviceID, rate int) malgo.DeviceConfig {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.Capture.DeviceID = id.Pointer()
	cfg.SampleRate = uint32(rate)
	cfg.PeriodSizeInMilliseconds = 20
	return cfg
}

func classifyDeviceError(message string, err error) error {
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "denied") || strings.Contains(text, "permission"):
		return core.NewDeviceError(core.DeviceNotAllowed, message, err)
	case strings.Contains(text, "no device") || strings.Contains(text, "does not exist") || strings.Contains(text, "not found"):
		return core.NewDeviceError(core.DeviceNotFound, message, err)
	default:
		return core.NewDeviceError(core.DeviceNotReadable, message, err)
	}
}
