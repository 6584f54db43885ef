// Package logging builds the process logger: charmbracelet/log for the
// terminal, optionally teed into a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configure New.
type Options struct {
	Level  string
	Format string
	// File, when set, receives every line too. It rotates at 10 MB and keeps
	// three backups.
	File   string
	Prefix string
}

// New returns a slog logger writing to w. The closer releases the log file
// and is safe to call when no file was opened.
func New(w io.Writer, opts Options) (*slog.Logger, io.Closer, error) {
	if strings.TrimSpace(opts.Level) == "" {
		opts.Level = "info"
	}
	level, err := log.ParseLevel(strings.TrimSpace(opts.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", opts.Level, err)
	}
	formatter, err := parseFormat(opts.Format)
	if err != nil {
		return nil, nil, err
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10,
			MaxBackups: 3,
		}
		w = io.MultiWriter(w, file)
		closer = file
	}

	handler := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          opts.Prefix,
		Formatter:       formatter,
	})
	return slog.New(handler), closer, nil
}

func parseFormat(s string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("unknown log format %q", s)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
