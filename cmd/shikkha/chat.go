package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/shikkha/pkg/core/types"
	"github.com/vango-go/shikkha/pkg/i18n"
	"github.com/vango-go/shikkha/pkg/tutor"
)

const chatHelp = `Commands:
  /summarize          summarize the discussion
  /simplify           explain the last answer more simply
  /quiz               quiz on the last messages
  /speak              read the last answer aloud
  /attach <path>      attach an image to the next question
  /new                start a new session
  /sessions           list sessions
  /use <n>            switch to session n
  /subject [name]     show or change the subject
  /lang               toggle English and Bengali
  /live               start the live voice tutor (Enter to stop)
  /profile [avatar <path>|noavatar]
  /help
  /quit`

func runChatCmd(cmd *cobra.Command, opts *rootOptions, in io.Reader, out, errOut io.Writer, d deps) error {
	a, err := setup(cmd, opts, in, out, errOut, d, true)
	if err != nil {
		return err
	}
	defer a.close()
	return a.repl(cmd.Context())
}

func (a *app) repl(ctx context.Context) error {
	r := a.render()
	fmt.Fprintln(a.out, r.Header(a.ctrl.Subject()))
	fmt.Fprintln(a.out, r.Welcome())
	fmt.Fprintln(a.out, r.Styles.Dim.Render("/help"))
	for {
		fmt.Fprint(a.out, "> ")
		line, err := a.readLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(a.out)
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := a.command(ctx, line)
			if err != nil {
				fmt.Fprintf(a.errOut, "%v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		a.send(ctx, func(ctx context.Context) (types.Message, error) { return a.ctrl.Send(ctx, line) })
	}
}

func (a *app) send(ctx context.Context, fn func(context.Context) (types.Message, error)) {
	fmt.Fprintln(a.out, a.render().Typing())
	msg, err := fn(ctx)
	if errors.Is(err, tutor.ErrNothingToSend) {
		return
	}
	if err != nil {
		a.logger.Debug("turn returned error", "error", err)
	}
	if msg.ID != "" {
		fmt.Fprintln(a.out, a.render().Message(msg))
	}
}

// command runs one slash command and reports whether the chat should end.
func (a *app) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(a.out, chatHelp)
	case "/summarize", "/simplify", "/quiz":
		if !a.ctrl.ToolboxAvailable() {
			return false, errors.New("ask a question first")
		}
		switch name {
		case "/summarize":
			a.send(ctx, a.ctrl.Summarize)
		case "/simplify":
			a.send(ctx, a.ctrl.Simplify)
		default:
			return false, a.quiz(ctx)
		}
	case "/speak":
		text, ok := a.lastReply()
		if !ok {
			return false, errors.New("nothing to read yet")
		}
		if a.ctrl.Speaking() {
			return false, errors.New("already reading aloud")
		}
		fmt.Fprintln(a.out, a.render().Styles.Dim.Render("reading aloud..."))
		a.speech.Go(func() {
			if err := a.ctrl.Speak(ctx, text); err != nil && !errors.Is(err, tutor.ErrBusy) {
				a.alert(err.Error())
			}
		})
	case "/attach":
		if arg == "" {
			return false, errors.New("usage: /attach <path>")
		}
		if err := a.ctrl.AttachFile(arg); err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "attached (%d pending)\n", len(a.ctrl.PendingAttachments()))
	case "/new":
		a.ctrl.NewSession()
		fmt.Fprintln(a.out, a.render().Welcome())
	case "/sessions":
		cur, _ := a.ctrl.Store().Current()
		fmt.Fprint(a.out, a.render().Sessions(a.ctrl.Store().List(), cur.ID))
	case "/use":
		n, err := strconv.Atoi(arg)
		list := a.ctrl.Store().List()
		if err != nil || n < 1 || n > len(list) {
			return false, fmt.Errorf("usage: /use <1-%d>", len(list))
		}
		if err := a.ctrl.SelectSession(list[n-1].ID); err != nil {
			return false, err
		}
		a.printSession()
	case "/subject":
		if arg == "" {
			fmt.Fprintln(a.out, a.render().Header(a.ctrl.Subject()))
			for i, s := range types.Subjects {
				fmt.Fprintf(a.out, "  %d. %s\n", i+1, a.render().Catalog.SubjectName(a.ctrl.Language(), s))
			}
			return false, nil
		}
		s, ok := types.ParseSubject(arg)
		if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(types.Subjects) {
			s, ok = types.Subjects[n-1], true
		}
		if !ok {
			return false, fmt.Errorf("unknown subject %q", arg)
		}
		a.ctrl.SetSubject(s)
		fmt.Fprintln(a.out, a.render().Header(s))
	case "/lang":
		a.ctrl.ToggleLanguage()
		fmt.Fprintln(a.out, a.render().Header(a.ctrl.Subject()))
	case "/live":
		return false, a.liveUntilEnter(ctx)
	case "/profile":
		return false, a.profile(arg)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (a *app) lastReply() (string, bool) {
	sess, ok := a.ctrl.Store().Current()
	if !ok {
		return "", false
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if m := sess.Messages[i]; m.Role == types.RoleModel && !m.IsQuiz {
			return m.Content, true
		}
	}
	return "", false
}

func (a *app) printSession() {
	sess, ok := a.ctrl.Store().Current()
	if !ok {
		return
	}
	r := a.render()
	fmt.Fprintln(a.out, r.Header(sess.Subject))
	if len(sess.Messages) == 0 {
		fmt.Fprintln(a.out, r.Welcome())
	}
	for _, m := range sess.Messages {
		fmt.Fprintln(a.out, r.Message(m))
	}
}

// quiz asks each question in turn until the learner picks the right option
// or leaves the question blank.
func (a *app) quiz(ctx context.Context) error {
	fmt.Fprintln(a.out, a.render().Typing())
	msg, ok, err := a.ctrl.StartQuiz(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("could not build a quiz from this session")
	}
	r := a.render()
	fmt.Fprintln(a.out, r.Styles.Label.Render(msg.Content))
	for i, item := range msg.Quiz {
		fmt.Fprint(a.out, r.Quiz([]types.QuizItem{item}))
		for {
			fmt.Fprintf(a.out, "%d> ", i+1)
			line, err := a.readLine()
			if err != nil {
				return err
			}
			if line == "" {
				break
			}
			choice, ok := parseChoice(line, len(item.Options))
			if !ok {
				fmt.Fprintf(a.errOut, "pick A-%c\n", 'A'+rune(len(item.Options)-1))
				continue
			}
			correct, _ := a.ctrl.CheckAnswer(item, choice)
			fmt.Fprintln(a.out, r.QuizFeedback(correct))
			if correct {
				break
			}
		}
	}
	return nil
}

// parseChoice accepts a letter (A, b) or a 1-based number.
func parseChoice(s string, n int) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 1 {
		c := s[0] | 0x20
		if c >= 'a' && int(c-'a') < n {
			return int(c - 'a'), true
		}
	}
	if i, err := strconv.Atoi(s); err == nil && i >= 1 && i <= n {
		return i - 1, true
	}
	return 0, false
}

func (a *app) profile(arg string) error {
	verb, path, _ := strings.Cut(arg, " ")
	switch verb {
	case "":
	case "avatar":
		if err := a.ctrl.SetAvatarFile(strings.TrimSpace(path)); err != nil {
			return err
		}
	case "noavatar":
		a.ctrl.RemoveAvatar()
	default:
		return errors.New("usage: /profile [avatar <path>|noavatar]")
	}
	p := a.ctrl.Profile()
	r := a.render()
	avatar := "-"
	if p.Avatar != "" {
		avatar = fmt.Sprintf("%d bytes", len(p.Avatar))
	}
	fmt.Fprintln(a.out, r.Styles.Label.Render(a.ctrl.T(i18n.ProfileSettings)))
	fmt.Fprintf(a.out, "  %s: %s\n", a.ctrl.T(i18n.PreferredLanguage), a.ctrl.T(i18n.LanguageBtn))
	fmt.Fprintf(a.out, "  avatar: %s\n", avatar)
	return nil
}
