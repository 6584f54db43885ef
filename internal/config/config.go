// Package config loads shikkha settings from defaults, an optional config
// file, a local .env and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/vango-go/shikkha/internal/dotenv"
	"github.com/vango-go/shikkha/pkg/core/providers/gemini"
	"github.com/vango-go/shikkha/pkg/core/types"
	"github.com/vango-go/shikkha/pkg/live/protocol"
	"github.com/vango-go/shikkha/pkg/live/session"
)

// EnvPrefix prefixes every environment override, e.g. SHIKKHA_LANGUAGE.
// Nested keys use a double underscore: SHIKKHA_LOG__LEVEL.
const EnvPrefix = "SHIKKHA"

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json logfmt"`
	// File, when set, receives a rotated copy of every log line.
	File string `mapstructure:"file"`
}

type Config struct {
	APIKey   string `mapstructure:"api_key"`
	Language string `mapstructure:"language" validate:"oneof=en bn"`
	Subject  string `mapstructure:"subject" validate:"oneof=General Mathematics Science History Literature ICT"`

	ChatModel   string `mapstructure:"chat_model" validate:"required"`
	SpeechModel string `mapstructure:"speech_model" validate:"required"`
	LiveModel   string `mapstructure:"live_model" validate:"required"`
	LiveURL     string `mapstructure:"live_url" validate:"required,url"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`

	Log LogConfig `mapstructure:"log"`
}

// Lang returns the configured language.
func (c *Config) Lang() types.Language {
	return types.Language(c.Language)
}

func (c *Config) SubjectValue() types.Subject {
	s, _ := types.ParseSubject(c.Subject)
	return s
}

// GeminiOptions maps the chat settings onto provider options.
func (c *Config) GeminiOptions() []gemini.Option {
	return []gemini.Option{
		gemini.WithModel(c.ChatModel),
		gemini.WithSpeechModel(c.SpeechModel),
		gemini.WithRequestTimeout(c.RequestTimeout),
	}
}

// LiveConfig is the live session template. Devices and callbacks are left
// for the caller.
func (c *Config) LiveConfig() session.Config {
	return session.Config{
		Endpoint:       c.LiveURL,
		Model:          c.LiveModel,
		Subject:        c.SubjectValue(),
		ConnectTimeout: c.ConnectTimeout,
	}
}

// Load reads configuration. path names an optional YAML file; envFile names
// an optional dotenv file whose values never override the real environment.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := dotenv.LoadFile(envFile); err != nil {
			return nil, err
		}
	}

	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)
	if err := v.BindEnv("api_key", EnvPrefix+"_API_KEY", "GEMINI_API_KEY", "API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if lang, ok := types.ParseLanguage(cfg.Language); ok {
		cfg.Language = string(lang)
	}
	if s, ok := types.ParseSubject(cfg.Subject); ok {
		cfg.Subject = string(s)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", describe(err))
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("language", string(types.LanguageBengali))
	v.SetDefault("subject", string(types.SubjectGeneral))
	v.SetDefault("chat_model", gemini.DefaultModel)
	v.SetDefault("speech_model", gemini.DefaultSpeechModel)
	v.SetDefault("live_model", protocol.DefaultModel)
	v.SetDefault("live_url", protocol.DefaultEndpoint)
	v.SetDefault("request_timeout", gemini.DefaultRequestTimeout)
	v.SetDefault("connect_timeout", session.DefaultConnectTimeout)
	v.SetDefault("log__level", "info")
	v.SetDefault("log__format", "text")
	v.SetDefault("log__file", "")
}

// describe names the offending keys instead of Go field paths.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Join(msgs...)
}
