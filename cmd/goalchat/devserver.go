package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/devserver"
)

func newDevserverCmd(a *app) *cobra.Command {
	var (
		port       string
		replyDelay time.Duration
		seed       bool
		rateLimit  int
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the in-memory reference goal server",
		Long: `Run an in-memory server implementing the chat API with a scripted assistant.

The assistant understands "create goal <title>", "milestone <title>" and
"checklist"; anything else is echoed back with suggestions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port == "" {
				port = a.cfg.Port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDevserver(ctx, a.logger, devserverOptions{
				addr:           ":" + port,
				token:          a.cfg.Token,
				allowedOrigins: a.cfg.AllowedOrigins,
				replyDelay:     replyDelay,
				seed:           seed,
				rateLimit:      rateLimit,
			})
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default $PORT)")
	cmd.Flags().DurationVar(&replyDelay, "reply-delay", 1500*time.Millisecond, "delay before the assistant replies")
	cmd.Flags().BoolVar(&seed, "seed", true, "create a demo goal on start")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 30, "user turns allowed per chat per minute (0 disables)")
	return cmd
}

type devserverOptions struct {
	addr           string
	token          string
	allowedOrigins []string
	replyDelay     time.Duration
	seed           bool
	rateLimit      int
}

func runDevserver(ctx context.Context, logger *slog.Logger, opts devserverOptions) error {
	srv := devserver.New(
		devserver.WithLogger(logger),
		devserver.WithReplyDelay(opts.replyDelay),
	)
	defer srv.Close()

	if opts.seed {
		g := srv.CreateGoal("Run a half marathon", "Demo goal")
		srv.AddMilestone(g.ID, "Run 5k without stopping")
		srv.AddTask(g.ID, "Buy running shoes")
		logger.Info("Seeded demo goal", "goal_id", g.ID, "title", g.Title)
	}

	cfg := devserver.HandlerConfig{
		Token:          opts.token,
		AllowedOrigins: opts.allowedOrigins,
	}
	if opts.rateLimit > 0 {
		cfg.MessageLimiter = devserver.NewRateLimiter(opts.rateLimit, time.Minute)
	}

	httpSrv := &http.Server{
		Addr:         opts.addr,
		Handler:      srv.Handler(cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Devserver listening", "addr", httpSrv.Addr, "auth", opts.token != "")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			logger.Error("Devserver failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Devserver forced to shutdown", "error", err)
		return err
	}
	logger.Info("Devserver stopped successfully")
	return nil
}
