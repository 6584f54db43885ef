package gemini

import (
	"log/slog"
	"time"
)

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the chat and quiz model.
// Default: gemini-3-flash-preview
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithSpeechModel sets the text-to-speech model.
// Default: gemini-2.5-flash-preview-tts
func WithSpeechModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.speechModel = model
		}
	}
}

func WithTemperature(t float32) Option {
	return func(p *Provider) {
		p.temperature = t
	}
}

// WithRequestTimeout bounds every request. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// WithHistoryLimit sets how many prior turns Converse sends.
func WithHistoryLimit(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.historyLimit = n
		}
	}
}

// WithAuthErrorHandler registers fn to run whenever a request fails because
// the API key is invalid or unresolvable.
func WithAuthErrorHandler(fn func()) Option {
	return func(p *Provider) {
		p.onAuthError = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}
