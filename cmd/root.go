package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/joegoldin/transcribe/internal/invoke"
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

func newRootCmd() *cobra.Command {
	opts := &transcribeOpts{}
	cmd := &cobra.Command{
		Use:   "transcribe [flags] <audio-file>",
		Short: "Transcribe an audio file to text",
		Long: `Load a whisper speech-to-text model and print the transcript of one audio file.

The spoken language is detected automatically; nothing forces a language, so
speech may come back in native script or romanized form. Only the transcript
is written to stdout. Diagnostics and model progress go to stderr.

Examples:
  transcribe interview.wav
  transcribe -m medium song.mp3
  transcribe -b openai memo.m4a`,
		Version:       Version,
		Args:          exactlyOneFile,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd, opts, args)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invoke.UsageError(err)
	})
	opts.register(cmd)
	return cmd
}

// exactlyOneFile rejects bad argument counts before any config or file is read.
func exactlyOneFile(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return invoke.UsageError(fmt.Errorf("%w, got %d", invoke.ErrUsage, len(args)))
	}
	return nil
}

// Execute runs the command and exits with a status that identifies the
// failed stage.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, newRootCmd(), os.Args[1:], os.Stderr)
	stop()
	os.Exit(invoke.ExitCode(err))
}

func run(ctx context.Context, root *cobra.Command, args []string, stderr io.Writer) error {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", errorPrefix(stderr), err)
		if invoke.IsUsage(err) {
			fmt.Fprint(stderr, root.UsageString())
		}
	}
	return err
}

// errorPrefix is rendered for the profile of w, so redirected stderr stays
// plain text.
func errorPrefix(w io.Writer) string {
	r := lipgloss.NewRenderer(w)
	return r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")).Render("transcribe:")
}
