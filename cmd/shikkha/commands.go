package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(opts *rootOptions, in io.Reader, out, errOut io.Writer, d deps) *cobra.Command {
	var images []string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts, in, out, errOut, d, false)
			if err != nil {
				return err
			}
			defer a.close()
			for _, path := range images {
				if err := a.ctrl.AttachFile(path); err != nil {
					return err
				}
			}
			msg, err := a.ctrl.Send(cmd.Context(), strings.Join(args, " "))
			if msg.ID != "" {
				fmt.Fprintln(out, a.render().Message(msg))
			}
			return err
		},
	}
	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "attach an image (repeatable)")
	return cmd
}

func newQuizCmd(opts *rootOptions, in io.Reader, out, errOut io.Writer, d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "quiz <topic or notes>",
		Short: "Generate a quiz on a topic and answer it interactively",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts, in, out, errOut, d, false)
			if err != nil {
				return err
			}
			defer a.close()
			msg, err := a.ctrl.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(out, a.render().Message(msg))
			return a.quiz(cmd.Context())
		},
	}
}

func newSpeakCmd(opts *rootOptions, in io.Reader, out, errOut io.Writer, d deps) *cobra.Command {
	return &cobra.Command{
		Use:   "speak <text>",
		Short: "Read text aloud in the configured language",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return errors.New("nothing to read")
			}
			a, err := setup(cmd, opts, in, out, errOut, d, false)
			if err != nil {
				return err
			}
			defer a.close()
			return a.ctrl.Speak(cmd.Context(), text)
		},
	}
}
