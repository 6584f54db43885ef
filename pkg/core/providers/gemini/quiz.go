package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"google.golang.org/genai"

	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/types"
)

// QuizSize is the number of questions requested per quiz.
const QuizSize = 3

type QuizRequest struct {
	Context  string
	Language types.Language
	Subject  types.Subject
}

// QuizPrompt is the instruction sent for a quiz over material.
func QuizPrompt(material string, lang types.Language, subject types.Subject) string {
	return fmt.Sprintf("Based on this context: \"%s\", generate %d multiple choice questions for a student in %s. Subject: %s.",
		material, QuizSize, lang.Name(), subject)
}

var quizSchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"question": {Type: genai.TypeString},
			"options": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"correctAnswer": {
				Type:        genai.TypeInteger,
				Description: "Index of the correct option (0-3)",
			},
		},
		Required: []string{"question", "options", "correctAnswer"},
	},
}

// GenerateQuiz asks for QuizSize multiple-choice items about req.Context.
// Any failure yields an empty slice; items that cannot be graded are dropped.
func (p *Provider) GenerateQuiz(ctx context.Context, req QuizRequest) []types.QuizItem {
	contents := []*genai.Content{
		genai.NewContentFromText(QuizPrompt(req.Context, req.Language, req.Subject), genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   quizSchema,
	}
	resp, err := p.generate(ctx, "quiz", p.model, contents, cfg)
	if err != nil {
		return []types.QuizItem{}
	}
	items, err := parseQuiz(resp.Text())
	if err != nil {
		p.logger.Warn("quiz response not usable", "error", err)
		return []types.QuizItem{}
	}
	return items
}

// parseQuiz decodes the model's JSON, repairing it once if it is malformed.
func parseQuiz(text string) ([]types.QuizItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.NewDecodeError("empty quiz response", nil)
	}
	var raw []types.QuizItem
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		var syntaxErr *json.SyntaxError
		if !errors.As(err, &syntaxErr) {
			return nil, core.NewDecodeError("decode quiz", err)
		}
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return nil, core.NewDecodeError("repair quiz json", errors.Join(err, rerr))
		}
		if err := json.Unmarshal([]byte(repaired), &raw); err != nil {
			return nil, core.NewDecodeError("decode repaired quiz", err)
		}
	}

	items := make([]types.QuizItem, 0, QuizSize)
	for _, it := range raw {
		if !it.Valid() {
			continue
		}
		items = append(items, it)
		if len(items) == QuizSize {
			break
		}
	}
	return items, nil
}
