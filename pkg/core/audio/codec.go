// Package audio converts between PCM16 byte buffers, normalized float samples,
// and the base64 text form used on the live transport.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/vango-go/shikkha/pkg/core"
)

// MIMETypePCM is the media type prefix for raw little-endian PCM16.
const MIMETypePCM = "audio/pcm"

// EncodeBytes returns the standard padded base64 form of b.
func EncodeBytes(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeText reverses EncodeBytes. Surrounding whitespace is ignored.
func DecodeText(s string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, core.NewDecodeError("invalid base64 audio payload", err)
	}
	return out, nil
}

// FloatToPCM16 scales samples by 32768, truncates toward zero, and writes
// little-endian 16-bit words.
//
// Values outside [-1, 1) are not clamped: they wrap modulo 2^16, so 1.0
// becomes -32768. NaN and infinities become 0.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(float64(s)*32768)))
	}
	return out
}

func toInt16(v float64) int16 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	m := math.Mod(math.Trunc(v), 65536)
	if m < 0 {
		m += 65536
	}
	return int16(uint16(m))
}

// Int16ToFloat normalizes one PCM16 sample to [-1, 1).
func Int16ToFloat(v int16) float32 {
	return float32(v) / 32768
}

// Buffer is planar float audio ready for playback.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// PCM16ToBuffer decodes interleaved little-endian PCM16 into planar float
// channels. The frame count is len(data)/2/channels; a trailing partial frame
// is dropped.
func PCM16ToBuffer(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("sample rate must be positive, got %d", sampleRate), "sample_rate")
	}
	if channels <= 0 {
		return nil, core.NewInvalidRequestErrorWithParam(fmt.Sprintf("channel count must be positive, got %d", channels), "channels")
	}
	frames := len(data) / 2 / channels
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			buf.Channels[ch][i] = Int16ToFloat(int16(binary.LittleEndian.Uint16(data[off:])))
		}
	}
	return buf, nil
}

// Blob is a text-encoded media payload tagged with its MIME type.
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// PCMMIMEType returns the MIME type for mono PCM16 at rate Hz.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", MIMETypePCM, rate)
}

// NewBlob converts one capture frame into a transport-ready media blob.
func NewBlob(samples []float32, rate int) Blob {
	return Blob{
		Data:     EncodeBytes(FloatToPCM16(samples)),
		MIMEType: PCMMIMEType(rate),
	}
}
