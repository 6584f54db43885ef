package device

import (
	"encoding/binary"
	"math"
)

// framer slices an arbitrary stream of samples into fixed-size frames.
type framer struct {
	size    int
	buf     []float32
	onFrame func([]float32)
}

func newFramer(size int, onFrame func([]float32)) *framer {
	return &framer{size: size, buf: make([]float32, 0, size), onFrame: onFrame}
}

func (f *framer) push(samples []float32) {
	for len(samples) > 0 {
		n := min(f.size-len(f.buf), len(samples))
		f.buf = append(f.buf, samples[:n]...)
		samples = samples[n:]
		if len(f.buf) == f.size {
			f.onFrame(f.buf)
			f.buf = f.buf[:0]
		}
	}
}

func decodeF32(data []byte, dst []float32) []float32 {
	n := len(data) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return dst
}

func encodeF32(dst []byte, samples []float32) {
	for i, s := range samples {
		if (i+1)*4 > len(dst) {
			return
		}
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
