package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Miosa-osa/OSA-sub005/internal/agent"
	"github.com/Miosa-osa/OSA-sub005/internal/config"
	"github.com/Miosa-osa/OSA-sub005/internal/sessions"
)

// chatCmd drives the loop from the terminal: same classify → filter →
// session path as /orchestrate, without the HTTP layer.
func chatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session against the local runtime",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session id")
	return cmd
}

func runChat(sessionID string) {
	setupLogging()
	logger := slog.Default()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.close()

	if sessionID == "" {
		sessionID = sessions.BuildKey("cli", sessions.PeerDirect, "local")
	}
	sess, err := rt.sessions.Ensure(sessionID, "local", "cli")
	if err != nil {
		logger.Error("session", "error", err)
		os.Exit(1)
	}

	fmt.Printf("session %s — type a message, /quit to exit\n", sessionID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}

		s := rt.classifier.Classify(line, "cli")
		s, ok := rt.filter.Admit(ctx, s)
		if !ok {
			fmt.Printf("(filtered: weight %.2f below threshold)\n", s.Weight)
			continue
		}

		var out *agent.Outcome
		var turnErr error
		if err := sess.Run(ctx, func(ctx context.Context) {
			out, turnErr = rt.loop.ProcessMessage(ctx, sess, s)
		}); err != nil {
			fmt.Println("session unavailable:", err)
			return
		}

		switch {
		case errors.Is(turnErr, agent.ErrIterationLimit):
			fmt.Println("(iteration limit reached)")
			if out.Content != "" {
				fmt.Println(out.Content)
			}
		case turnErr != nil:
			fmt.Println("error:", turnErr)
		case out.Silent:
			// NO_REPLY: nothing to show.
		default:
			fmt.Println(out.Content)
		}
	}
}
