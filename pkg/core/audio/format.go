package audio

import (
	"math"
	"time"
)

// Format specifies PCM16 stream parameters.
type Format struct {
	// SampleRate in Hz. The live session captures at 16000 and plays at 24000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`
}

const bytesPerSample = 2

// Mono returns a single-channel format at rate Hz.
func Mono(rate int) Format {
	return Format{SampleRate: rate, Channels: 1}
}

// BytesPerSecond returns the byte rate for PCM16 audio.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Duration returns the playback time of n bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// RMS computes the root-mean-square level of normalized samples, in [0, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
