package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/api"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/config"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/progress"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/session"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/store"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/transcript"
)

var (
	errNoLiveMessage = errors.New("nothing to act on in the latest assistant message")
	errBadCommand    = errors.New("bad command")
)

func newChatCmd(a *app) *cobra.Command {
	var (
		goalID int64
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat of a goal",
		Long: `Open the chat of a goal and talk to the assistant line by line.

Commands:
  /confirm            apply the proposed actions
  /cancel             reject the proposed actions
  /check k=v; k=v     answer the open checklist
  /suggest N          send suggestion N
  /refresh            reload messages and progress
  /state              show synchronization state
  /quit               leave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("debug") {
				a.cfg.Debug = debug
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, a.cfg, a.logger, goalID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&goalID, "goal", 0, "goal id")
	_ = cmd.MarkFlagRequired("goal")
	cmd.Flags().BoolVar(&debug, "debug", false, "request diagnostic trailers and show full error details")
	return cmd
}

func runChat(ctx context.Context, cfg *config.Config, logger *slog.Logger, goalID int64, in io.Reader, out io.Writer) error {
	client := api.New(cfg.APIURL, cfg.Token,
		api.WithTimeout(cfg.RequestTimeout),
		api.WithLogger(logger),
	)

	repo, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if repo != nil {
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				logger.Error("Failed to close cache", "error", closeErr)
			}
		}()
	}

	tr, err := transcript.New(transcript.Config{
		Enabled:   cfg.Transcript.Dir != "",
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := tr.Close(); closeErr != nil {
			logger.Error("Failed to close transcript", "error", closeErr)
		}
	}()

	r := newRenderer(out)
	tracker := progress.NewTracker(client, goalID, r.progress, logger)

	changed := make(chan struct{}, 1)
	opts := session.Options{
		GoalID:            goalID,
		Client:            client,
		Transcript:        tr,
		Logger:            logger,
		Debug:             cfg.Debug,
		PollInitialDelay:  cfg.Poll.InitialDelay,
		PollInterval:      cfg.Poll.Interval,
		PollMaxAttempts:   cfg.Poll.MaxAttempts,
		SyncInterval:      cfg.SyncInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
		OnGoalCreated: r.goalCreated,
		OnRefresh: func(ctx context.Context) {
			if _, err := tracker.Refresh(ctx); err != nil {
				logger.Warn("Failed to refresh progress", "goal_id", goalID, "error", err)
			}
		},
	}
	if repo != nil {
		opts.Store = repo
	}

	sess, err := session.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	if err := sess.Start(); err != nil {
		return err
	}

	r.render(sess.View())
	if _, err := tracker.Refresh(ctx); err != nil {
		logger.Warn("Failed to load progress", "goal_id", goalID, "error", err)
	}

	// Proactive messages arrive from the session loops; render them as they
	// land.
	renderCtx, stopRender := context.WithCancel(ctx)
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		for {
			select {
			case <-renderCtx.Done():
				return
			case <-changed:
				r.render(sess.View())
			}
		}
	}()
	defer func() {
		stopRender()
		<-renderDone
	}()

	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit := handleLine(ctx, sess, tracker, r, line)
			r.render(sess.View())
			if quit {
				return nil
			}
		}
	}
}

// openCache opens the SQLite cache and drops chats idle past the TTL. It
// returns nil when the cache is disabled.
func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, nil
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("cache health check: %w", err)
	}
	removed, err := repo.CleanupStaleChats(ctx, cfg.CacheTTL)
	if err != nil {
		logger.Warn("Failed to clean up stale cached chats", "error", err)
	} else if removed > 0 {
		logger.Info("Stale cached chats removed", "count", removed)
	}
	return repo, nil
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
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
	return lines
}

// handleLine runs one REPL line and reports whether the user asked to quit.
func handleLine(ctx context.Context, sess *session.SyncSession, tracker *progress.Tracker, r *renderer, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.help()
	case "/confirm":
		err = onLive(sess, func(v session.MessageView) bool { return v.CanConfirm }, func(v session.MessageView) error {
			_, err := sess.Confirm(ctx, v.ID)
			return err
		})
	case "/cancel":
		err = onLive(sess, func(v session.MessageView) bool { return v.CanConfirm }, func(v session.MessageView) error {
			_, err := sess.Cancel(ctx, v.ID)
			return err
		})
	case "/check":
		err = onLive(sess, func(v session.MessageView) bool { return v.CanSubmitChecklist }, func(v session.MessageView) error {
			answers, err := parseAnswers(*v.Checklist, rest)
			if err != nil {
				return err
			}
			_, err = sess.SubmitChecklist(ctx, v.ID, answers)
			return err
		})
	case "/suggest":
		err = onLive(sess, func(v session.MessageView) bool { return len(v.Suggestions) > 0 }, func(v session.MessageView) error {
			n, err := strconv.Atoi(rest)
			if err != nil || n < 1 || n > len(v.Suggestions) {
				return fmt.Errorf("%w: /suggest takes a number from 1 to %d", errBadCommand, len(v.Suggestions))
			}
			return sess.Send(ctx, v.Suggestions[n-1])
		})
	case "/refresh":
		// A failed message fetch is rendered by the session.
		if err = sess.Refresh(ctx); err == nil {
			if _, perr := tracker.Refresh(ctx); perr != nil {
				r.warn(fmt.Errorf("refresh progress: %w", perr))
			}
		}
	case "/state":
		r.state(sess.State())
	default:
		if strings.HasPrefix(cmd, "/") {
			err = fmt.Errorf("%w: unknown command %s, try /help", errBadCommand, cmd)
		} else {
			err = sess.Send(ctx, line)
		}
	}

	if err != nil && needsWarning(err) {
		r.warn(err)
	}
	return false
}

// onLive runs fn on the latest view accepted by ok.
func onLive(sess *session.SyncSession, ok func(session.MessageView) bool, fn func(session.MessageView) error) error {
	views := sess.View()
	for i := len(views) - 1; i >= 0; i-- {
		if views[i].Live {
			if !ok(views[i]) {
				break
			}
			return fn(views[i])
		}
	}
	return errNoLiveMessage
}

// needsWarning reports whether err must be printed as a warning. Failures the
// session already rendered as a message are left out.
func needsWarning(err error) bool {
	for _, target := range []error{
		session.ErrTurnInFlight,
		session.ErrActionInFlight,
		session.ErrNotLive,
		session.ErrEmptyTurn,
		session.ErrClosed,
		directive.ErrChecklistIncomplete,
		errNoLiveMessage,
		errBadCommand,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// parseAnswers reads "id=value; id=value" against the checklist schema.
func parseAnswers(cl directive.Checklist, args string) (map[string]any, error) {
	kinds := make(map[string]directive.ItemKind, len(cl.Items))
	for _, it := range cl.Items {
		kinds[it.ID.String()] = it.Kind
	}

	answers := make(map[string]any)
	for _, pair := range strings.Split(args, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: expected id=value, got %q", errBadCommand, pair)
		}
		kind, known := kinds[key]
		if !known {
			return nil, fmt.Errorf("%w: checklist has no item %q", errBadCommand, key)
		}

		switch kind {
		case directive.KindBoolean:
			b, err := parseYesNo(value)
			if err != nil {
				return nil, fmt.Errorf("%w: item %s: %v", errBadCommand, key, err)
			}
			answers[key] = b
		case directive.KindNumber:
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: item %s wants a number", errBadCommand, key)
			}
			answers[key] = f
		default:
			answers[key] = value
		}
	}
	return answers, nil
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "y", "yes", "да", "true", "1", "+":
		return true, nil
	case "n", "no", "нет", "false", "0", "-":
		return false, nil
	}
	return false, fmt.Errorf("want yes or no, got %q", s)
}
