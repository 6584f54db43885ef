// Package gemini is the tutoring gateway to Google Gemini: grounded chat
// turns, quiz generation and speech synthesis.
package gemini

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/vango-go/shikkha/pkg/core"
)

const (
	DefaultModel          = "gemini-3-flash-preview"
	DefaultSpeechModel    = "gemini-2.5-flash-preview-tts"
	DefaultTemperature    = float32(0.7)
	DefaultRequestTimeout = 60 * time.Second
	DefaultHistoryLimit   = 10

	// SpeechSampleRate is the rate of the PCM16 mono audio returned by SynthesizeSpeech.
	SpeechSampleRate = 24000
)

// generator is the slice of genai.Models the gateway uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	Get(ctx context.Context, model string, config *genai.GetModelConfig) (*genai.Model, error)
}

// Provider issues tutoring requests to Gemini. It holds no per-conversation
// state; every call carries its own history.
type Provider struct {
	models       generator
	model        string
	speechModel  string
	temperature  float32
	timeout      time.Duration
	historyLimit int
	onAuthError  func()
	logger       *slog.Logger
}

// New creates a provider on the Gemini API backend.
func New(apiKey string, opts ...Option) (*Provider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, core.NewCredentialError("API key is required", nil)
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewAPIError("create gemini client", err)
	}
	return newProvider(client.Models, opts...), nil
}

func newProvider(models generator, opts ...Option) *Provider {
	p := &Provider{
		models:       models,
		model:        DefaultModel,
		speechModel:  DefaultSpeechModel,
		temperature:  DefaultTemperature,
		timeout:      DefaultRequestTimeout,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("provider", p.Name())
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Verify makes a cheap authenticated call so a freshly entered key can be
// confirmed before the UI treats it as usable.
func (p *Provider) Verify(ctx context.Context) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if _, err := p.models.Get(ctx, p.model, nil); err != nil {
		return p.fail(ctx, "verify", err)
	}
	return nil
}

func (p *Provider) generate(ctx context.Context, op, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	resp, err := p.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, p.fail(ctx, op, err)
	}
	p.logger.Debug("gemini request complete", "op", op, "model", model, "elapsed", time.Since(start))
	return resp, nil
}

func (p *Provider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// fail classifies err, runs the auth handler for credential failures, and
// logs the outcome.
func (p *Provider) fail(ctx context.Context, op string, err error) error {
	cerr := classify(ctx, op, err)
	if cerr.Type == core.ErrCredential && p.onAuthError != nil {
		p.onAuthError()
	}
	p.logger.Warn("gemini request failed", "op", op, "error_type", cerr.Type, "error", err)
	return cerr
}
