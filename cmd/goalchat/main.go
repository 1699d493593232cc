// goalchat - terminal client and reference server for goal chats
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/config"
)

// app carries what every subcommand needs after the root PreRun.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "goalchat",
		Short:        "Chat with the goal assistant from a terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found, using environment variables")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg

			// Logs go to stderr so they never interleave with the chat on stdout.
			a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: cfg.SlogLevel(),
			}))
			slog.SetDefault(a.logger)
			return nil
		},
	}

	root.AddCommand(newChatCmd(a), newDevserverCmd(a))
	return root
}
