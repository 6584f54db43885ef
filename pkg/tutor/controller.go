// Package tutor is the application controller: it gates requests on a
// confirmed API key and turns user intents into gateway calls, chat store
// updates, read-aloud playback and live sessions.
package tutor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-go/shikkha/pkg/attach"
	"github.com/vango-go/shikkha/pkg/chat"
	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/providers/gemini"
	"github.com/vango-go/shikkha/pkg/core/types"
	"github.com/vango-go/shikkha/pkg/i18n"
	"github.com/vango-go/shikkha/pkg/live/session"
	"github.com/vango-go/shikkha/pkg/live/sessions"
)

// QuizContextMessages is how many recent messages feed a quiz.
const QuizContextMessages = 5

var (
	// ErrNothingToSend is returned for an empty prompt without attachments.
	ErrNothingToSend = errors.New("nothing to send")
	// ErrBusy is returned while a read-aloud is already playing.
	ErrBusy = errors.New("already speaking")
)

// Gateway is the AI backend used by the controller.
type Gateway interface {
	Converse(ctx context.Context, req gemini.ConverseRequest) (gemini.Reply, error)
	GenerateQuiz(ctx context.Context, req gemini.QuizRequest) []types.QuizItem
	SynthesizeSpeech(ctx context.Context, text string, lang types.Language) []byte
	Verify(ctx context.Context) error
}

// GatewayFactory builds a gateway for key. onAuthError must run whenever a
// request is rejected for credential reasons.
type GatewayFactory func(key string, onAuthError func()) (Gateway, error)

// GeminiFactory builds gemini providers with opts.
func GeminiFactory(opts ...gemini.Option) GatewayFactory {
	return func(key string, onAuthError func()) (Gateway, error) {
		all := append([]gemini.Option{gemini.WithAuthErrorHandler(onAuthError)}, opts...)
		p, err := gemini.New(key, all...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// AlertFunc shows a message to the user.
type AlertFunc func(message string)

// Profile holds user preferences.
type Profile struct {
	Language types.Language
	// Avatar is an image data URL, empty when unset.
	Avatar string
}

type Config struct {
	Store      *chat.Store
	NewGateway GatewayFactory
	Speaker    Speaker

	// Live is the template for live sessions. APIKey, Subject and the
	// callbacks are filled in per start.
	Live     session.Config
	Sessions *sessions.Manager

	Language types.Language
	Subject  types.Subject
	Alert    AlertFunc
	Logger   *slog.Logger
}

type Controller struct {
	cfg     Config
	logger  *slog.Logger
	catalog *i18n.Catalog
	creds   Credentials

	mu          sync.Mutex
	gateway     Gateway
	profile     Profile
	subject     types.Subject
	attachments []string
	typing      bool
	speaking    bool
	onLive      func(session.LiveState)
}

func New(cfg Config) *Controller {
	if cfg.Store == nil {
		cfg.Store = chat.NewStore()
	}
	if cfg.NewGateway == nil {
		cfg.NewGateway = GeminiFactory()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = sessions.NewManager()
	}
	if _, ok := types.ParseLanguage(string(cfg.Language)); !ok {
		cfg.Language = types.LanguageBengali
	}
	if cfg.Subject == "" {
		cfg.Subject = types.SubjectGeneral
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg,
		logger:  logger.With("component", "tutor"),
		catalog: i18n.Default(),
		profile: Profile{Language: cfg.Language},
		subject: cfg.Subject,
	}
}

// T looks up an interface string in the current language.
func (c *Controller) T(key string) string {
	return c.catalog.T(c.Language(), key)
}

// --- credentials ---

func (c *Controller) CredentialState() CredentialState {
	return c.creds.State()
}

// SubmitKey stores key as pending. ConfirmKey must succeed before any
// request is made with it.
func (c *Controller) SubmitKey(key string) error {
	c.mu.Lock()
	c.gateway = nil
	c.mu.Unlock()
	return c.creds.Submit(key)
}

// ConfirmKey verifies the pending key with a real request.
func (c *Controller) ConfirmKey(ctx context.Context) error {
	var gw Gateway
	err := c.creds.Confirm(ctx, func(ctx context.Context, key string) error {
		g, err := c.cfg.NewGateway(key, c.authFailed)
		if err != nil {
			return err
		}
		if err := g.Verify(ctx); err != nil {
			return err
		}
		gw = g
		return nil
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.gateway = gw
	c.mu.Unlock()
	c.logger.Info("api key confirmed")
	return nil
}

// authFailed drops the key and tells the user to pick another one.
func (c *Controller) authFailed() {
	c.creds.Invalidate()
	c.mu.Lock()
	c.gateway = nil
	c.mu.Unlock()
	c.logger.Warn("api key rejected")
	c.alert(i18n.APIKeyError)
}

func (c *Controller) requireGateway() (Gateway, error) {
	if c.creds.State() != CredentialConfirmed {
		return nil, core.NewCredentialError("API key required", nil)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gateway == nil {
		return nil, core.NewCredentialError("API key required", nil)
	}
	return c.gateway, nil
}

func (c *Controller) alert(key string) {
	if c.cfg.Alert != nil {
		c.cfg.Alert(c.T(key))
	}
}

// --- language, subject, profile ---

func (c *Controller) Language() types.Language {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.Language
}

func (c *Controller) SetLanguage(lang types.Language) {
	if _, ok := types.ParseLanguage(string(lang)); !ok {
		return
	}
	c.mu.Lock()
	c.profile.Language = lang
	c.mu.Unlock()
}

// ToggleLanguage switches between English and Bengali and returns the new language.
func (c *Controller) ToggleLanguage() types.Language {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile.Language = c.profile.Language.Toggle()
	return c.profile.Language
}

func (c *Controller) Subject() types.Subject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subject
}

func (c *Controller) SetSubject(s types.Subject) {
	c.mu.Lock()
	c.subject = s
	c.mu.Unlock()
}

func (c *Controller) Profile() Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// SetAvatarFile loads an image file as the profile avatar.
func (c *Controller) SetAvatarFile(path string) error {
	url, err := attach.LoadFile(path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.profile.Avatar = url
	c.mu.Unlock()
	return nil
}

func (c *Controller) RemoveAvatar() {
	c.mu.Lock()
	c.profile.Avatar = ""
	c.mu.Unlock()
}

// --- sessions ---

// Store exposes the chat sessions for rendering.
func (c *Controller) Store() *chat.Store {
	return c.cfg.Store
}

// NewSession starts an empty session with the current subject and language.
func (c *Controller) NewSession() types.ChatSession {
	c.mu.Lock()
	c.attachments = nil
	c.mu.Unlock()
	return c.cfg.Store.Create(c.Subject(), c.Language())
}

// SelectSession makes id current and adopts its subject.
func (c *Controller) SelectSession(id string) error {
	if err := c.cfg.Store.Select(id); err != nil {
		return err
	}
	if sess, ok := c.cfg.Store.Get(id); ok && sess.Subject != "" {
		c.SetSubject(sess.Subject)
	}
	return nil
}

func (c *Controller) currentSession() types.ChatSession {
	if sess, ok := c.cfg.Store.Current(); ok {
		return sess
	}
	return c.NewSession()
}

// ToolboxAvailable reports whether summarize, simplify and quiz apply.
func (c *Controller) ToolboxAvailable() bool {
	sess, ok := c.cfg.Store.Current()
	return ok && len(sess.Messages) > 0
}

// --- attachments ---

// AttachFile queues an image for the next message.
func (c *Controller) AttachFile(path string) error {
	url, err := attach.LoadFile(path)
	if err != nil {
		return err
	}
	c.Attach(url)
	return nil
}

func (c *Controller) Attach(dataURL string) {
	c.mu.Lock()
	c.attachments = append(c.attachments, dataURL)
	c.mu.Unlock()
}

func (c *Controller) PendingAttachments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.attachments...)
}

// --- chat ---

// Typing reports whether a chat turn is in flight.
func (c *Controller) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing
}

// Send appends the prompt and pending attachments as a user message, asks
// the gateway, and appends the reply. A failed turn still appends the
// fallback reply; the cause is returned alongside it.
func (c *Controller) Send(ctx context.Context, prompt string) (types.Message, error) {
	gw, err := c.requireGateway()
	if err != nil {
		return types.Message{}, err
	}

	c.mu.Lock()
	atts := c.attachments
	if strings.TrimSpace(prompt) == "" && len(atts) == 0 {
		c.mu.Unlock()
		return types.Message{}, ErrNothingToSend
	}
	c.attachments = nil
	c.typing = true
	lang, subject := c.profile.Language, c.subject
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.typing = false
		c.mu.Unlock()
	}()

	sess := c.currentSession()
	history := sess.Messages
	if _, err := c.cfg.Store.Append(sess.ID, types.Message{
		Role:        types.RoleUser,
		Content:     prompt,
		Attachments: append([]string(nil), atts...),
	}); err != nil {
		return types.Message{}, err
	}

	reply, callErr := gw.Converse(ctx, gemini.ConverseRequest{
		Prompt:      prompt,
		Language:    lang,
		Subject:     subject,
		History:     history,
		Attachments: atts,
	})
	if callErr != nil {
		c.logger.Error("chat turn failed", "session_id", sess.ID, "error", callErr)
	}
	msg, err := c.cfg.Store.Append(sess.ID, types.Message{
		Role:      types.RoleModel,
		Content:   reply.Text,
		Citations: reply.Citations,
	})
	if err != nil {
		return types.Message{}, err
	}
	return msg, callErr
}

// Summarize asks for a summary of the current session.
func (c *Controller) Summarize(ctx context.Context) (types.Message, error) {
	return c.Send(ctx, c.T(i18n.SummarizePrompt))
}

// Simplify asks for a simpler explanation.
func (c *Controller) Simplify(ctx context.Context) (types.Message, error) {
	return c.Send(ctx, c.T(i18n.SimplifyPrompt))
}

// StartQuiz builds a quiz from the last messages of the current session. It
// reports false, with no message appended, when the session is empty or no
// usable quiz came back.
func (c *Controller) StartQuiz(ctx context.Context) (types.Message, bool, error) {
	gw, err := c.requireGateway()
	if err != nil {
		return types.Message{}, false, err
	}
	sess := c.currentSession()
	recent := sess.Messages
	if len(recent) == 0 {
		return types.Message{}, false, nil
	}
	if len(recent) > QuizContextMessages {
		recent = recent[len(recent)-QuizContextMessages:]
	}
	parts := make([]string, len(recent))
	for i, m := range recent {
		parts[i] = m.Content
	}

	c.mu.Lock()
	c.typing = true
	lang, subject := c.profile.Language, c.subject
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.typing = false
		c.mu.Unlock()
	}()

	items := gw.GenerateQuiz(ctx, gemini.QuizRequest{
		Context:  strings.Join(parts, " "),
		Language: lang,
		Subject:  subject,
	})
	if len(items) == 0 {
		c.logger.Info("quiz produced no items", "session_id", sess.ID)
		return types.Message{}, false, nil
	}
	msg, err := c.cfg.Store.Append(sess.ID, types.Message{
		Role:    types.RoleModel,
		Content: c.catalog.T(lang, i18n.QuizIntro),
		IsQuiz:  true,
		Quiz:    items,
	})
	if err != nil {
		return types.Message{}, false, err
	}
	return msg, true, nil
}

// CheckAnswer grades choice and returns the localized feedback.
func (c *Controller) CheckAnswer(item types.QuizItem, choice int) (bool, string) {
	if choice == item.CorrectAnswer {
		return true, c.T(i18n.QuizCorrect)
	}
	return false, c.T(i18n.QuizWrong)
}

// --- read-aloud ---

// Speaking reports whether a read-aloud is in progress.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Speak reads text aloud. Only one read-aloud plays at a time; a second call
// while speaking returns ErrBusy.
func (c *Controller) Speak(ctx context.Context, text string) error {
	gw, err := c.requireGateway()
	if err != nil {
		return err
	}
	if c.cfg.Speaker == nil {
		return core.NewDeviceError(core.DeviceNotFound, "no audio output configured", nil)
	}

	c.mu.Lock()
	if c.speaking {
		c.mu.Unlock()
		return ErrBusy
	}
	c.speaking = true
	lang := c.profile.Language
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.speaking = false
		c.mu.Unlock()
	}()

	pcm := gw.SynthesizeSpeech(ctx, text, lang)
	if len(pcm) == 0 {
		c.logger.Debug("speech synthesis returned no audio")
		return nil
	}
	return c.cfg.Speaker.Play(ctx, pcm)
}
