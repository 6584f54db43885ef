// Package i18n holds the English and Bengali interface strings.
package i18n

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/vango-go/shikkha/pkg/core/types"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Keys used outside this package.
const (
	HeaderTitle       = "headerTitle"
	Placeholder       = "placeholder"
	NewChat           = "newChat"
	History           = "history"
	Subject           = "subject"
	LanguageBtn       = "languageBtn"
	Typing            = "typing"
	Sources           = "sources"
	Source            = "source"
	LiveTutor         = "liveTutor"
	StopLive          = "stopLive"
	Summarize         = "summarize"
	Quiz              = "quiz"
	Simplify          = "simplify"
	APIKeyRequired    = "apiKeyRequired"
	APIKeyPrompt      = "apiKeyPrompt"
	SelectAPIKey      = "selectApiKey"
	BillingDoc        = "billingDoc"
	ProfileSettings   = "profileSettings"
	UploadAvatar      = "uploadAvatar"
	ChangeAvatar      = "changeAvatar"
	RemoveAvatar      = "removeAvatar"
	GeneralSettings   = "generalSettings"
	PreferredLanguage = "preferredLanguage"
	LiveConnecting    = "liveConnecting"
	LiveYouSay        = "liveYouSay"
	LiveTutorName     = "liveTutorName"
	WelcomeTitle      = "welcomeTitle"
	WelcomeBody       = "welcomeBody"
	SummarizePrompt   = "summarizePrompt"
	SimplifyPrompt    = "simplifyPrompt"
	QuizIntro         = "quizIntro"
	QuizCorrect       = "quizCorrect"
	QuizWrong         = "quizWrong"
	APIKeyError       = "apiKeyError"
	MicError          = "micError"
	You               = "you"
)

type document struct {
	Strings  map[types.Language]map[string]string `yaml:"strings"`
	Subjects map[types.Subject]string             `yaml:"subjects"`
	Examples map[types.Language][]string          `yaml:"examples"`
}

// Catalog is an immutable string table.
type Catalog struct {
	doc document
}

// Parse loads a catalog and checks that both languages define the same keys
// and every subject has a Bengali name.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	en, bn := doc.Strings[types.LanguageEnglish], doc.Strings[types.LanguageBengali]
	if len(en) == 0 || len(bn) == 0 {
		return nil, fmt.Errorf("catalog must define strings for en and bn")
	}
	if missing := diff(en, bn); len(missing) > 0 {
		return nil, fmt.Errorf("catalog bn is missing keys %v", missing)
	}
	if missing := diff(bn, en); len(missing) > 0 {
		return nil, fmt.Errorf("catalog en is missing keys %v", missing)
	}
	for _, s := range types.Subjects {
		if doc.Subjects[s] == "" {
			return nil, fmt.Errorf("catalog has no Bengali name for subject %s", s)
		}
	}
	return &Catalog{doc: doc}, nil
}

func diff(a, b map[string]string) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := Parse(catalogYAML)
	if err != nil {
		panic("i18n: embedded catalog: " + err.Error())
	}
	return c
})

// Default returns the embedded catalog.
func Default() *Catalog {
	return defaultCatalog()
}

// T returns the string for key in lang, falling back to English and then to
// the key itself.
func (c *Catalog) T(lang types.Language, key string) string {
	if s, ok := c.doc.Strings[lang][key]; ok {
		return s
	}
	if s, ok := c.doc.Strings[types.LanguageEnglish][key]; ok {
		return s
	}
	return key
}

// SubjectName is the subject label shown in lang.
func (c *Catalog) SubjectName(lang types.Language, s types.Subject) string {
	if lang == types.LanguageBengali {
		if name := c.doc.Subjects[s]; name != "" {
			return name
		}
	}
	return string(s)
}

// Examples are the prompts suggested on an empty session.
func (c *Catalog) Examples(lang types.Language) []string {
	ex := c.doc.Examples[lang]
	if len(ex) == 0 {
		ex = c.doc.Examples[types.LanguageEnglish]
	}
	return append([]string(nil), ex...)
}

// T looks key up in the default catalog.
func T(lang types.Language, key string) string {
	return Default().T(lang, key)
}
