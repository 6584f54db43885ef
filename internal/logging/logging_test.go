package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Level: "warn", Format: "json"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("live session ended", "session_id", "abc")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%q", lines)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode %q: %v", lines[0], err)
	}
	if rec["msg"] != "live session ended" || rec["session_id"] != "abc" {
		t.Fatalf("record=%v", rec)
	}
}

func TestNew_TeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shikkha.log")
	var buf bytes.Buffer
	logger, closer, err := New(&buf, Options{Level: "info", File: path})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	logger.Info("api key confirmed")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "api key confirmed") || !strings.Contains(buf.String(), "api key confirmed") {
		t.Fatalf("file=%q stderr=%q", data, buf.String())
	}
}

func TestNew_RejectsBadOptions(t *testing.T) {
	if _, _, err := New(&bytes.Buffer{}, Options{Level: "loud"}); err == nil {
		t.Fatalf("expected level error")
	}
	if _, _, err := New(&bytes.Buffer{}, Options{Level: "info", Format: "xml"}); err == nil {
		t.Fatalf("expected format error")
	}
}
