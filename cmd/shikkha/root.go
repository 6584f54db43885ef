package main

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	lang       string
	subject    string
	logLevel   string
	logFile    string
}

func newRootCmd(in io.Reader, out, errOut io.Writer, d deps) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "shikkha",
		Short: "Bilingual AI study tutor",
		Long: `ShikkhaAI answers study questions in English or Bengali, builds quick
quizzes from the conversation, reads replies aloud and runs a live voice tutor.

The Gemini API key is read from GEMINI_API_KEY, API_KEY or SHIKKHA_API_KEY,
or from a local .env file. Without a key the chat asks for one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChatCmd(cmd, opts, in, out, errOut, d)
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	pf.StringVarP(&opts.lang, "lang", "l", "", "interface and answer language (en or bn)")
	pf.StringVarP(&opts.subject, "subject", "s", "", "study subject")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFile, "log-file", "", "also write logs to this rotated file")

	root.AddCommand(
		&cobra.Command{
			Use:   "chat",
			Short: "Interactive study chat (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runChatCmd(cmd, opts, in, out, errOut, d)
			},
		},
		newAskCmd(opts, in, out, errOut, d),
		newQuizCmd(opts, in, out, errOut, d),
		newSpeakCmd(opts, in, out, errOut, d),
		newLiveCmd(opts, in, out, errOut, d),
		newVersionCmd(out),
	)
	return root
}

func newVersionCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if info, ok := debug.ReadBuildInfo(); ok && v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
				v = info.Main.Version
			}
			fmt.Fprintf(out, "shikkha %s\n", v)
		},
	}
}
