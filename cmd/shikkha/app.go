package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/shikkha/internal/config"
	"github.com/vango-go/shikkha/internal/logging"
	"github.com/vango-go/shikkha/pkg/core/providers/gemini"
	"github.com/vango-go/shikkha/pkg/core/types"
	"github.com/vango-go/shikkha/pkg/i18n"
	"github.com/vango-go/shikkha/pkg/live/device"
	"github.com/vango-go/shikkha/pkg/live/session"
	"github.com/vango-go/shikkha/pkg/tutor"
	"github.com/vango-go/shikkha/pkg/ui"
)

// deps replaces the hardware and network edges. Zero values select the real
// implementations.
type deps struct {
	newGateway tutor.GatewayFactory
	devices    device.Devices
	speaker    tutor.Speaker
	dial       session.DialFunc
}

type app struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
	ctrl   *tutor.Controller

	lines  *bufio.Scanner
	out    io.Writer
	errOut io.Writer

	// speech tracks read-aloud playback started from the chat.
	speech sync.WaitGroup
}

func newApp(opts *rootOptions, in io.Reader, out, errOut io.Writer, d deps) (*app, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.lang != "" {
		lang, ok := types.ParseLanguage(opts.lang)
		if !ok {
			return nil, fmt.Errorf("unknown language %q (want en or bn)", opts.lang)
		}
		cfg.Language = string(lang)
	}
	if opts.subject != "" {
		s, ok := types.ParseSubject(opts.subject)
		if !ok {
			return nil, fmt.Errorf("unknown subject %q", opts.subject)
		}
		cfg.Subject = string(s)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}

	logger, closer, err := logging.New(errOut, logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Prefix: "shikkha",
	})
	if err != nil {
		return nil, err
	}

	if d.newGateway == nil {
		d.newGateway = tutor.GeminiFactory(append(cfg.GeminiOptions(), gemini.WithLogger(logger))...)
	}
	if d.devices == nil {
		d.devices = device.NewMalgo(logger)
	}
	if d.speaker == nil {
		d.speaker = tutor.NewOtoSpeaker(gemini.SpeechSampleRate, logger)
	}
	live := cfg.LiveConfig()
	live.Devices = d.devices
	live.Dial = d.dial
	live.Logger = logger

	a := &app{
		cfg:    cfg,
		logger: logger,
		closer: closer,
		lines:  bufio.NewScanner(in),
		out:    out,
		errOut: errOut,
	}
	a.ctrl = tutor.New(tutor.Config{
		NewGateway: d.newGateway,
		Speaker:    d.speaker,
		Live:       live,
		Language:   cfg.Lang(),
		Subject:    cfg.SubjectValue(),
		Alert:      a.alert,
		Logger:     logger,
	})
	return a, nil
}

func (a *app) close() {
	a.speech.Wait()
	a.ctrl.StopLive()
	if err := a.closer.Close(); err != nil {
		fmt.Fprintf(a.errOut, "close log file: %v\n", err)
	}
}

func (a *app) render() *ui.Renderer {
	return ui.NewRenderer(a.ctrl.Language())
}

func (a *app) alert(msg string) {
	fmt.Fprintln(a.errOut, a.render().Styles.Bad.Render(msg))
}

// readLine returns the next trimmed input line, or io.EOF.
func (a *app) readLine() (string, error) {
	if !a.lines.Scan() {
		if err := a.lines.Err(); err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return "", io.EOF
	}
	return strings.TrimSpace(a.lines.Text()), nil
}

// unlock confirms the configured key, asking for one when none is set.
// When interactive is false a missing key is an error.
func (a *app) unlock(ctx context.Context, interactive bool) error {
	key := strings.TrimSpace(a.cfg.APIKey)
	for {
		if key == "" {
			if !interactive {
				return errors.New("no API key: set GEMINI_API_KEY")
			}
			r := a.render()
			fmt.Fprintln(a.out, r.Styles.Label.Render(a.ctrl.T(i18n.APIKeyRequired)))
			fmt.Fprintln(a.out, r.Styles.Dim.Render(a.ctrl.T(i18n.APIKeyPrompt)))
			fmt.Fprint(a.out, "key> ")
			line, err := a.readLine()
			if err != nil {
				return err
			}
			key = line
			if key == "" {
				continue
			}
		}
		if err := a.ctrl.SubmitKey(key); err != nil {
			return err
		}
		err := a.ctrl.ConfirmKey(ctx)
		if err == nil {
			return nil
		}
		if !interactive || a.ctrl.CredentialState() != tutor.CredentialMissing {
			return err
		}
		key = ""
	}
}

// setup builds the app and unlocks it for one command.
func setup(cmd *cobra.Command, opts *rootOptions, in io.Reader, out, errOut io.Writer, d deps, interactive bool) (*app, error) {
	a, err := newApp(opts, in, out, errOut, d)
	if err != nil {
		return nil, err
	}
	if err := a.unlock(cmd.Context(), interactive); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}
