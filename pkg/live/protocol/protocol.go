// Package protocol defines the Gemini Live websocket messages exchanged by a
// live tutoring session and decodes inbound frames into a closed event set.
package protocol

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/shikkha/pkg/core/audio"
)

const (
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel    = "gemini-2.5-flash-native-audio-preview-09-2025"

	ModalityAudio = "AUDIO"

	// DefaultOutputRate is the sample rate of model audio when the MIME type omits it.
	DefaultOutputRate = 24000
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ClientURL appends the API key to a BidiGenerateContent endpoint.
func ClientURL(endpoint, apiKey string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse live endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("live endpoint must use ws or wss, got %q", u.Scheme)
	}
	if key := strings.TrimSpace(apiKey); key != "" {
		q := u.Query()
		q.Set("key", key)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *audio.Blob `json:"inlineData,omitempty"`
}

type Content struct {
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type AudioTranscriptionConfig struct{}

type Setup struct {
	Model                    string                    `json:"model"`
	GenerationConfig         GenerationConfig          `json:"generationConfig"`
	SystemInstruction        *Content                  `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
}

type ClientSetup struct {
	Setup Setup `json:"setup"`
}

type RealtimeInput struct {
	MediaChunks []audio.Blob `json:"mediaChunks"`
}

type ClientRealtimeInput struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// NewSetup builds an audio-only setup message with both transcription streams enabled.
func NewSetup(model, systemInstruction string) ClientSetup {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	setup := Setup{
		Model:                    model,
		GenerationConfig:         GenerationConfig{ResponseModalities: []string{ModalityAudio}},
		InputAudioTranscription:  &AudioTranscriptionConfig{},
		OutputAudioTranscription: &AudioTranscriptionConfig{},
	}
	if strings.TrimSpace(systemInstruction) != "" {
		setup.SystemInstruction = &Content{Parts: []Part{{Text: systemInstruction}}}
	}
	return ClientSetup{Setup: setup}
}

// NewMediaInput wraps one media blob for the realtimeInput stream.
func NewMediaInput(blob audio.Blob) ClientRealtimeInput {
	return ClientRealtimeInput{RealtimeInput: RealtimeInput{MediaChunks: []audio.Blob{blob}}}
}

// Event is the closed set of inbound live events.
type Event interface {
	liveEvent()
}

type SetupComplete struct{}

// Transcription carries an incremental transcript fragment.
type Transcription struct {
	// Output is true for model speech, false for user speech.
	Output bool
	Text   string
}

type TurnComplete struct{}

// AudioChunk is decoded PCM16 model audio.
type AudioChunk struct {
	Data       []byte
	SampleRate int
}

type Interrupted struct{}

type GoAway struct {
	TimeLeft time.Duration
}

// ErrorEvent reports a server-side fault or an undecodable payload slot.
type ErrorEvent struct {
	Code    string
	Message string
}

func (SetupComplete) liveEvent() {}
func (Transcription) liveEvent() {}
func (TurnComplete) liveEvent()  {}
func (AudioChunk) liveEvent()    {}
func (Interrupted) liveEvent()   {}
func (GoAway) liveEvent()        {}
func (ErrorEvent) liveEvent()    {}

type serverTranscription struct {
	Text string `json:"text"`
}

type serverContent struct {
	ModelTurn *struct {
		Parts []struct {
			Text       string `json:"text,omitempty"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData,omitempty"`
		} `json:"parts"`
	} `json:"modelTurn,omitempty"`
	TurnComplete        bool                 `json:"turnComplete,omitempty"`
	Interrupted         bool                 `json:"interrupted,omitempty"`
	InputTranscription  *serverTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *serverTranscription `json:"outputTranscription,omitempty"`
}

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *struct {
		TimeLeft string `json:"timeLeft,omitempty"`
	} `json:"goAway,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// DecodeServerMessage decodes one inbound frame. Events within a frame are
// returned in the order they must be applied: output transcription, input
// transcription, turn complete, audio, interruption.
//
// A malformed frame yields a *DecodeError. A malformed audio payload does not
// fail the frame; it yields an ErrorEvent with code "audio_decode" in place of
// the chunk so the other events still apply.
func DecodeServerMessage(data []byte) ([]Event, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, badRequest("invalid json", "")
	}

	var events []Event
	if msg.SetupComplete != nil {
		events = append(events, SetupComplete{})
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, Transcription{Output: true, Text: sc.OutputTranscription.Text})
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, Transcription{Text: sc.InputTranscription.Text})
		}
		if sc.TurnComplete {
			events = append(events, TurnComplete{})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || part.InlineData.Data == "" {
					continue
				}
				pcm, err := audio.DecodeText(part.InlineData.Data)
				if err != nil {
					events = append(events, ErrorEvent{Code: "audio_decode", Message: err.Error()})
					continue
				}
				events = append(events, AudioChunk{Data: pcm, SampleRate: rateFromMIME(part.InlineData.MIMEType)})
			}
		}
		if sc.Interrupted {
			events = append(events, Interrupted{})
		}
	}
	if msg.GoAway != nil {
		events = append(events, GoAway{TimeLeft: parseProtoDuration(msg.GoAway.TimeLeft)})
	}
	if msg.Error != nil {
		code := strings.TrimSpace(msg.Error.Status)
		if code == "" && msg.Error.Code != 0 {
			code = strconv.Itoa(msg.Error.Code)
		}
		events = append(events, ErrorEvent{Code: code, Message: strings.TrimSpace(msg.Error.Message)})
	}
	return events, nil
}

func rateFromMIME(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rate") {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			return rate
		}
	}
	return DefaultOutputRate
}

// parseProtoDuration reads the protobuf JSON duration form ("12.5s").
func parseProtoDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
