package tutor

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/audio"
)

// Speaker plays PCM16 mono audio and returns once playback has finished or
// ctx is done.
type Speaker interface {
	Play(ctx context.Context, pcm []byte) error
}

// OtoSpeaker plays through the system output with oto. oto allows a single
// context per process, so the context is created lazily on first use and
// kept for the life of the speaker.
type OtoSpeaker struct {
	format audio.Format
	logger *slog.Logger

	once    sync.Once
	ctx     *oto.Context
	initErr error
}

func NewOtoSpeaker(sampleRate int, logger *slog.Logger) *OtoSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &OtoSpeaker{format: audio.Mono(sampleRate), logger: logger.With("component", "speaker")}
}

func (s *OtoSpeaker) init() error {
	s.once.Do(func() {
		// 100ms of buffered audio keeps cut-off latency low.
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   s.format.SampleRate,
			ChannelCount: s.format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		})
		if err != nil {
			s.initErr = core.NewDeviceError(core.DeviceNotReadable, "open audio output", err)
			return
		}
		<-ready
		s.ctx = ctx
	})
	return s.initErr
}

func (s *OtoSpeaker) Play(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	if err := s.init(); err != nil {
		return err
	}

	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	defer func() {
		if err := player.Close(); err != nil {
			s.logger.Debug("player close failed", "error", err)
		}
	}()
	player.Play()
	s.logger.Debug("speaking", "duration", s.format.Duration(len(pcm)))

	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			player.Pause()
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}
