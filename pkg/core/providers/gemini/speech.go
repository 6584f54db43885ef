package gemini

import (
	"context"

	"google.golang.org/genai"

	"github.com/vango-go/shikkha/pkg/core/types"
)

// Voice returns the prebuilt voice used for lang.
func Voice(lang types.Language) string {
	if lang == types.LanguageBengali {
		return "Kore"
	}
	return "Zephyr"
}

// SynthesizeSpeech reads text aloud in a voice chosen for lang. It returns
// 24 kHz mono PCM16, or nil when no audio was produced or the request failed.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text string, lang types.Language) []byte {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: Voice(lang)},
			},
		},
	}
	resp, err := p.generate(ctx, "speech", p.speechModel, contents, cfg)
	if err != nil {
		return nil
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data
		}
	}
	return nil
}
