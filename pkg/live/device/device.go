// Package device abstracts the audio hardware a live session needs: a
// microphone stream, a capture context that slices it into fixed frames, and a
// playback context with a clock on which buffers can be scheduled.
package device

import (
	"context"

	"github.com/vango-go/shikkha/pkg/core/audio"
)

// Devices acquires audio resources. Each returned resource must be released
// by its owner.
type Devices interface {
	OpenMicrophone(ctx context.Context) (CaptureStream, error)
	NewCaptureContext(sampleRate int) (CaptureContext, error)
	NewPlaybackContext(sampleRate int) (PlaybackContext, error)
}

// CaptureStream is an acquired microphone. Stop releases it and is idempotent.
type CaptureStream interface {
	Stop()
}

// CaptureContext delivers mono frames of exactly frameSize samples at its
// sample rate once a stream is connected. onFrame runs on the audio thread and
// must not retain the slice.
type CaptureContext interface {
	SampleRate() int
	Connect(stream CaptureStream, frameSize int, onFrame func([]float32)) error
	Close() error
}

// PlaybackContext renders scheduled buffers against an output clock measured
// in seconds since the context was created.
type PlaybackContext interface {
	SampleRate() int
	CurrentTime() float64
	NewBufferSource(buf *audio.Buffer) BufferSource
	Close() error
}

// BufferSource plays one buffer once. Start schedules it at an absolute clock
// time; a time in the past starts it immediately. Stop cuts it off. The ended
// callback fires once, after natural completion or Stop.
type BufferSource interface {
	Start(when float64)
	Stop()
	OnEnded(fn func())
}
