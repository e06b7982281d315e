package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mohammad-safakhou/deepresearch/internal/chat"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const tickInterval = 500 * time.Millisecond

func chatCMD(cfgPath *string) *cobra.Command {
	var serverURL, token string
	var plain bool
	c := &cobra.Command{
		Use:   "chat",
		Short: "Interactive research chat in the terminal",
		Long: "Starts a chat loop. Type a question to start research, answer the agent's\n" +
			"clarifying questions when asked, /clear to reset and /quit to leave.\n" +
			"With --server the loop drives a running deepresearch server instead of a local pipeline.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var backend chat.Backend
			logger := zap.NewNop()
			if serverURL != "" {
				backend = chat.NewRemote(serverURL, token)
			} else {
				a, err := newApp(ctx, *cfgPath)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					a.close(shutdownCtx)
				}()
				logger = a.logger
				backend = chat.Local{Session: a.session, Executor: a.exec}
			}
			var renderer *glamour.TermRenderer
			if !plain {
				renderer = newRenderer(logger)
			}
			return chatLoop(ctx, chat.NewConversation(backend, logger), os.Stdin, cmd.OutOrStdout(), renderer, logger)
		},
	}
	c.Flags().StringVar(&serverURL, "server", "", "base URL of a deepresearch server (e.g. http://localhost:10001)")
	c.Flags().StringVar(&token, "token", os.Getenv("DEEPRESEARCH_TOKEN"), "bearer token for --server")
	c.Flags().BoolVar(&plain, "plain", false, "print reports as raw markdown")
	return c
}

func newRenderer(logger *zap.Logger) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		logger.Debug("markdown rendering disabled", zap.Error(err))
		return nil
	}
	return r
}

// chatLoop reads lines from in and polls the conversation every tick until
// /quit, EOF or ctx ends. A nil renderer prints reports as raw markdown.
func chatLoop(ctx context.Context, conv *chat.Conversation, in io.Reader, out io.Writer, renderer *glamour.TermRenderer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
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

	fmt.Fprintln(out, "🔬 Deep Research Assistant. /clear resets the conversation, /quit exits.")
	prompt(out, conv)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit", "/exit":
				return nil
			case "/clear":
				if err := conv.Clear(ctx); err != nil {
					fmt.Fprintln(out, chat.MsgErrorPrefix+err.Error())
				}
				fmt.Fprintln(out, "Conversation cleared.")
			default:
				msgs, err := conv.HandleInput(ctx, line)
				if err != nil {
					fmt.Fprintln(out, chat.MsgErrorPrefix+err.Error())
				}
				printAssistant(out, renderer, msgs)
			}
			prompt(out, conv)
		case <-ticker.C:
			msgs, err := conv.Tick(ctx)
			if err != nil {
				logger.Warn("poll updates", zap.Error(err))
				continue
			}
			if printAssistant(out, renderer, msgs) {
				prompt(out, conv)
			}
		}
	}
}

func printAssistant(out io.Writer, renderer *glamour.TermRenderer, msgs []chat.Message) bool {
	printed := false
	for _, m := range msgs {
		if m.Role != chat.RoleAssistant {
			continue
		}
		text := m.Content
		if report, ok := strings.CutPrefix(text, chat.MsgCompletePrefix); ok && renderer != nil {
			if rendered, err := renderer.Render(report); err == nil {
				text = chat.MsgCompletePrefix + rendered
			}
		}
		fmt.Fprintf(out, "\n%s\n", text)
		printed = true
	}
	return printed
}

func prompt(out io.Writer, conv *chat.Conversation) {
	fmt.Fprintf(out, "\n[%s]\n> ", conv.Mode().Placeholder())
}
