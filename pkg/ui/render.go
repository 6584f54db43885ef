// Package ui renders tutor state for the terminal.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vango-go/shikkha/pkg/chat"
	"github.com/vango-go/shikkha/pkg/core/types"
	"github.com/vango-go/shikkha/pkg/i18n"
	"github.com/vango-go/shikkha/pkg/live/session"
)

// Theme is the color scheme.
type Theme struct {
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Dim     lipgloss.Color
	Good    lipgloss.Color
	Bad     lipgloss.Color
}

var DefaultTheme = Theme{
	Primary: lipgloss.Color("#4f46e5"),
	Accent:  lipgloss.Color("#10b981"),
	Dim:     lipgloss.Color("#6e7681"),
	Good:    lipgloss.Color("#16a34a"),
	Bad:     lipgloss.Color("#dc2626"),
}

type Styles struct {
	Title    lipgloss.Style
	User     lipgloss.Style
	Model    lipgloss.Style
	Label    lipgloss.Style
	Dim      lipgloss.Style
	Selected lipgloss.Style
	Good     lipgloss.Style
	Bad      lipgloss.Style
	Overlay  lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		User:     lipgloss.NewStyle().Foreground(t.Primary).PaddingLeft(2),
		Model:    lipgloss.NewStyle().PaddingLeft(2),
		Label:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Dim:      lipgloss.NewStyle().Foreground(t.Dim),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(t.Accent),
		Good:     lipgloss.NewStyle().Bold(true).Foreground(t.Good),
		Bad:      lipgloss.NewStyle().Bold(true).Foreground(t.Bad),
		Overlay:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Accent).Padding(0, 2),
	}
}

// Renderer turns tutor state into styled text in one language.
type Renderer struct {
	Lang    types.Language
	Catalog *i18n.Catalog
	Styles  Styles
}

func NewRenderer(lang types.Language) *Renderer {
	return &Renderer{Lang: lang, Catalog: i18n.Default(), Styles: NewStyles(DefaultTheme)}
}

func (r *Renderer) t(key string) string {
	return r.Catalog.T(r.Lang, key)
}

// Header is the app title with the current subject.
func (r *Renderer) Header(subject types.Subject) string {
	return r.Styles.Title.Render(r.t(i18n.HeaderTitle)) +
		r.Styles.Dim.Render(fmt.Sprintf("%s: %s", r.t(i18n.Subject), r.Catalog.SubjectName(r.Lang, subject)))
}

// Welcome is shown for a session without messages.
func (r *Renderer) Welcome() string {
	var b strings.Builder
	b.WriteString(r.Styles.Title.Render(r.t(i18n.WelcomeTitle)))
	b.WriteString("\n")
	b.WriteString(r.Styles.Dim.Render(r.t(i18n.WelcomeBody)))
	b.WriteString("\n")
	for i, ex := range r.Catalog.Examples(r.Lang) {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, ex)
	}
	return b.String()
}

// Message renders one chat bubble with its attachments, sources and quiz.
func (r *Renderer) Message(m types.Message) string {
	var b strings.Builder
	if m.Role == types.RoleUser {
		b.WriteString(r.Styles.Label.Render(r.t(i18n.You)))
		b.WriteString("\n")
		b.WriteString(r.Styles.User.Render(m.Content))
	} else {
		b.WriteString(r.Styles.Label.Render(r.t(i18n.HeaderTitle)))
		b.WriteString("\n")
		b.WriteString(r.Styles.Model.Render(m.Content))
	}
	b.WriteString("\n")
	if n := len(m.Attachments); n > 0 {
		b.WriteString(r.Styles.Dim.Render(fmt.Sprintf("  [%d image(s)]", n)))
		b.WriteString("\n")
	}
	if len(m.Citations) > 0 {
		b.WriteString(r.Styles.Dim.Render("  " + r.t(i18n.Sources)))
		b.WriteString("\n")
		for _, c := range m.Citations {
			title := c.Title
			if title == "" {
				title = r.t(i18n.Source)
			}
			fmt.Fprintf(&b, "  - %s <%s>\n", title, c.URI)
		}
	}
	if m.IsQuiz {
		b.WriteString(r.Quiz(m.Quiz))
	}
	return b.String()
}

// Quiz renders questions with lettered options.
func (r *Renderer) Quiz(items []types.QuizItem) string {
	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, it.Question)
		for j, opt := range it.Options {
			fmt.Fprintf(&b, "     %c) %s\n", 'A'+rune(j), opt)
		}
	}
	return b.String()
}

// QuizFeedback is the verdict after an answer.
func (r *Renderer) QuizFeedback(correct bool) string {
	if correct {
		return r.Styles.Good.Render(r.t(i18n.QuizCorrect))
	}
	return r.Styles.Bad.Render(r.t(i18n.QuizWrong))
}

// Sessions renders the history sidebar, marking currentID.
func (r *Renderer) Sessions(list []types.ChatSession, currentID string) string {
	var b strings.Builder
	b.WriteString(r.Styles.Label.Render(r.t(i18n.History)))
	b.WriteString("\n")
	for i, s := range list {
		line := fmt.Sprintf("%d. %s  %s · %s", i+1, chat.DisplayTitle(s),
			r.Catalog.SubjectName(r.Lang, s.Subject), s.CreatedAt.Format("2006-01-02"))
		if s.ID == currentID {
			b.WriteString(r.Styles.Selected.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Live renders the live tutor overlay.
func (r *Renderer) Live(st session.LiveState) string {
	if !st.IsActive() {
		return ""
	}
	var body string
	if st.IsConnecting() {
		body = r.t(i18n.LiveConnecting)
	} else {
		body = strings.Join([]string{
			r.Styles.Label.Render(r.t(i18n.LiveYouSay)),
			orEllipsis(st.UserTranscript),
			"",
			r.Styles.Label.Render(r.t(i18n.LiveTutorName)),
			orEllipsis(st.AITranscript),
			"",
			r.Styles.Dim.Render(levelMeter(st.InputLevel)),
		}, "\n")
	}
	return r.Styles.Overlay.Render(r.Styles.Title.Render(r.t(i18n.LiveTutor)) + "\n" + body)
}

// Typing is the indicator shown while a reply is pending.
func (r *Renderer) Typing() string {
	return r.Styles.Dim.Render(r.t(i18n.Typing))
}

func orEllipsis(s string) string {
	if strings.TrimSpace(s) == "" {
		return "..."
	}
	return s
}

// levelMeter draws the microphone level as a ten-step bar.
func levelMeter(level float64) string {
	n := int(level * 30)
	n = max(0, min(10, n))
	return "[" + strings.Repeat("#", n) + strings.Repeat(" ", 10-n) + "]"
}
