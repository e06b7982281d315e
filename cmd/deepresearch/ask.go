package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/research"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func askCMD(cfgPath *string) *cobra.Command {
	var timeout time.Duration
	ask := &cobra.Command{
		Use:   "ask [question]",
		Short: "Research one question and print the report",
		Long: "Runs the research pipeline once. Clarifying questions are printed to stderr\n" +
			"and answered on stdin. The report is written to stdout.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("please enter a question to research")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			cfg, logger, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			pipeline, closers, err := newPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				for _, c := range closers {
					_ = c.Close()
				}
			}()

			stderr := cmd.ErrOrStderr()
			askUser := stdinAsker(ctx, cmd.InOrStdin(), stderr)
			progress := func(_ context.Context, msg string) {
				fmt.Fprintln(stderr, msg)
			}

			report, err := pipeline.Run(ctx, question, askUser, progress)
			if err != nil {
				logger.Error("research failed", zap.Error(err))
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Text)
			return nil
		},
	}
	ask.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (0 = no limit)")
	return ask
}

// stdinAsker prints each clarifying question to out and returns the next line
// of in as the answer. Lines are read by one goroutine so a cancelled run does
// not wait for the user to press Enter.
func stdinAsker(ctx context.Context, in io.Reader, out io.Writer) research.AskFunc {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return func(ctx context.Context, q string) (string, error) {
		fmt.Fprintf(out, "\n🤖 %s\n> ", q)
		select {
		case line, ok := <-lines:
			if !ok {
				return "", fmt.Errorf("read answer: %w", io.ErrUnexpectedEOF)
			}
			return strings.TrimSpace(line), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
