package types

import (
	"strings"
	"time"
)

// Language is the interface and answer language of a study session.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageBengali Language = "bn"
)

// ParseLanguage normalizes a language tag. Unknown tags report false.
func ParseLanguage(s string) (Language, bool) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LanguageEnglish:
		return LanguageEnglish, true
	case LanguageBengali:
		return LanguageBengali, true
	default:
		return "", false
	}
}

// Toggle returns the other supported language.
func (l Language) Toggle() Language {
	if l == LanguageEnglish {
		return LanguageBengali
	}
	return LanguageEnglish
}

// Name is the language name used in prompts.
func (l Language) Name() string {
	if l == LanguageBengali {
		return "Bengali"
	}
	return "English"
}

// Subject conditions the tutor's system instruction.
type Subject string

const (
	SubjectGeneral     Subject = "General"
	SubjectMathematics Subject = "Mathematics"
	SubjectScience     Subject = "Science"
	SubjectHistory     Subject = "History"
	SubjectLiterature  Subject = "Literature"
	SubjectICT         Subject = "ICT"
)

// Subjects lists every subject in display order.
var Subjects = []Subject{
	SubjectGeneral,
	SubjectMathematics,
	SubjectScience,
	SubjectHistory,
	SubjectLiterature,
	SubjectICT,
}

// ParseSubject matches a subject case-insensitively.
func ParseSubject(s string) (Subject, bool) {
	s = strings.TrimSpace(s)
	for _, sub := range Subjects {
		if strings.EqualFold(string(sub), s) {
			return sub, true
		}
	}
	return "", false
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Citation is a web source returned alongside a grounded answer.
type Citation struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// QuizItem is one multiple-choice question. CorrectAnswer is a 0-based index into Options.
type QuizItem struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
}

// Valid reports whether the item can be rendered and graded.
func (q QuizItem) Valid() bool {
	return strings.TrimSpace(q.Question) != "" &&
		len(q.Options) >= 2 &&
		q.CorrectAnswer >= 0 && q.CorrectAnswer < len(q.Options)
}

// Message is one entry in a study session.
type Message struct {
	ID          string     `json:"id"`
	Role        Role       `json:"role"`
	Content     string     `json:"content"`
	Timestamp   time.Time  `json:"timestamp"`
	Attachments []string   `json:"attachments,omitempty"`
	Citations   []Citation `json:"groundingUrls,omitempty"`
	IsQuiz      bool       `json:"isQuiz,omitempty"`
	Quiz        []QuizItem `json:"quizData,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]string(nil), m.Attachments...)
	}
	if m.Citations != nil {
		out.Citations = append([]Citation(nil), m.Citations...)
	}
	if m.Quiz != nil {
		out.Quiz = make([]QuizItem, len(m.Quiz))
		for i, q := range m.Quiz {
			q.Options = append([]string(nil), q.Options...)
			out.Quiz[i] = q
		}
	}
	return out
}

// ChatSession is an ordered, append-only conversation thread.
type ChatSession struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Subject   Subject   `json:"subject"`
	Language  Language  `json:"language"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy of s.
func (s ChatSession) Clone() ChatSession {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}
