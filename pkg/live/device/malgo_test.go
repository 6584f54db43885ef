package device

import (
	"testing"

	"github.com/gen2brain/malgo"
)

func TestCaptureConfig(t *testing.T) {
	var id malgo.DeviceID
	id[0] = 7
	cfg := captureConfig(&id, 16000)
	if cfg.DeviceType != malgo.Capture {
		t.Fatalf("type=%v", cfg.DeviceType)
	}
	if cfg.Capture.Format != malgo.FormatF32 || cfg.Capture.Channels != 1 {
		t.Fatalf("format=%v channels=%d", cfg.Capture.Format, cfg.Capture.Channels)
	}
	if cfg.SampleRate != 16000 || cfg.PeriodSizeInMilliseconds != 20 {
		t.Fatalf("rate=%d period=%d", cfg.SampleRate, cfg.PeriodSizeInMilliseconds)
	}
	if cfg.Capture.DeviceID != id.Pointer() {
		t.Fatal("device id not bound")
	}

	// Acquisition opens at the native rate.
	if got := captureConfig(&id, 0).SampleRate; got != 0 {
		t.Fatalf("native rate=%d", got)
	}
}
