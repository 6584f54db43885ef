package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/audio"
	"github.com/vango-go/shikkha/pkg/core/types"
)

const (
	// FallbackReply replaces an empty model answer.
	FallbackReply = "Sorry, I couldn't generate a response."
	// ErrorReply is shown in the thread when a chat turn fails.
	ErrorReply = "An error occurred. Please try again."

	defaultImageMIME = "image/jpeg"
)

// ConverseRequest is one chat turn. History holds the prior messages of the
// session, oldest first; Attachments are image data URLs.
type ConverseRequest struct {
	Prompt      string
	Language    types.Language
	Subject     types.Subject
	History     []types.Message
	Attachments []string
}

// Reply is the model's answer with its web sources.
type Reply struct {
	Text      string
	Citations []types.Citation
}

// SystemInstruction is the tutor persona for a chat turn.
func SystemInstruction(lang types.Language, subject types.Subject) string {
	if subject == "" {
		subject = types.SubjectGeneral
	}
	if lang == types.LanguageBengali {
		return fmt.Sprintf("আপনি একজন বিশেষজ্ঞ শিক্ষা সহায়ক AI যার নাম \"ShikkhaAI\"। আপনি ছাত্রদের গণিত, বিজ্ঞান, ইতিহাস এবং অন্যান্য বিষয়ে সাহায্য করেন। বর্তমান বিষয়: %s। আপনার উত্তরগুলি শিক্ষামূলক, সহজবোধ্য এবং উৎসাহব্যঞ্জক হতে হবে। সর্বদা উত্তর বাংলায় দিন, তবে জটিল টেকনিক্যাল শব্দ ব্র্যাকেটে ইংরেজিতে লিখতে পারেন।", subject)
	}
	return fmt.Sprintf("You are an expert educational AI assistant named \"ShikkhaAI\". You help students with %s and other academic topics.\nYour explanations should be pedagogically sound, clear, and encouraging. Answer in English.", subject)
}

// Converse sends the last turns of history plus the new prompt with web
// grounding enabled.
//
// On failure it returns Reply{Text: ErrorReply} together with the classified
// error, so callers can show the fallback in the thread and still log the cause.
func (p *Provider) Converse(ctx context.Context, req ConverseRequest) (Reply, error) {
	contents, err := p.buildContents(req)
	if err != nil {
		return Reply{Text: ErrorReply}, err
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemInstruction(req.Language, req.Subject), genai.RoleUser),
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		Temperature:       genai.Ptr(p.temperature),
	}

	resp, err := p.generate(ctx, "converse", p.model, contents, cfg)
	if err != nil {
		return Reply{Text: ErrorReply}, err
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		text = FallbackReply
	}
	return Reply{Text: text, Citations: citations(resp)}, nil
}

func (p *Provider) buildContents(req ConverseRequest) ([]*genai.Content, error) {
	history := req.History
	if p.historyLimit > 0 && len(history) > p.historyLimit {
		history = history[len(history)-p.historyLimit:]
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == types.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for i, att := range req.Attachments {
		data, mime, err := splitDataURL(att)
		if err != nil {
			return nil, core.NewInvalidRequestErrorWithParam(err.Error(), fmt.Sprintf("attachments[%d]", i))
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	return contents, nil
}

// splitDataURL returns the decoded payload and MIME type of a base64 data
// URL. A bare base64 string is accepted as image/jpeg.
func splitDataURL(s string) ([]byte, string, error) {
	mime := defaultImageMIME
	payload := s
	if header, rest, ok := strings.Cut(s, ","); ok {
		payload = rest
		if m, ok := strings.CutPrefix(header, "data:"); ok {
			m = strings.TrimSuffix(m, ";base64")
			if m != "" {
				mime = m
			}
		}
	}
	data, err := audio.DecodeText(payload)
	if err != nil {
		return nil, "", fmt.Errorf("attachment is not valid base64: %w", err)
	}
	return data, mime, nil
}

// citations collects web sources, dropping empty URIs and keeping the first
// occurrence of each URI.
func citations(resp *genai.GenerateContentResponse) []types.Citation {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var out []types.Citation
	seen := make(map[string]bool)
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
			continue
		}
		seen[chunk.Web.URI] = true
		out = append(out, types.Citation{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return out
}
