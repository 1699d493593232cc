package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/api"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/config"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/devserver"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/progress"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newChatEnv(t *testing.T) (*devserver.Server, *config.Config) {
	t.Helper()
	// runChat builds its client on the default transport.
	t.Cleanup(http.DefaultClient.CloseIdleConnections)
	srv := devserver.New(devserver.WithLogger(quietLogger()))
	ts := httptest.NewServer(srv.Handler(devserver.HandlerConfig{}))
	t.Cleanup(srv.Close)
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.APIURL = ts.URL
	cfg.DBPath = ""
	cfg.Transcript.Dir = ""
	cfg.Poll.InitialDelay = time.Millisecond
	cfg.Poll.Interval = time.Millisecond
	cfg.Poll.MaxAttempts = 50
	cfg.SyncInterval = time.Hour
	cfg.HeartbeatInterval = time.Hour
	return srv, cfg
}

func TestRunChatConfirmsProposedMilestone(t *testing.T) {
	t.Parallel()
	srv, cfg := newChatEnv(t)
	goal := srv.CreateGoal("Run a marathon", "")

	in := strings.NewReader("milestone Run 10k\n/confirm\n/nope\n/quit\n")
	var out bytes.Buffer
	if err := runChat(context.Background(), cfg, quietLogger(), goal.ID, in, &out); err != nil {
		t.Fatalf("runChat: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"🤖 I can add that milestone for you.",
		"📌 Create milestone: Run 10k",
		"→ /confirm or /cancel",
		"✅ Actions applied",
		"📊 Progress:",
		"unknown command /nope",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if n := len(srv.Confirmations()); n != 1 {
		t.Errorf("confirmations = %d, want 1", n)
	}
}

func TestRunChatWithoutLiveActions(t *testing.T) {
	t.Parallel()
	srv, cfg := newChatEnv(t)
	goal := srv.CreateGoal("Learn Go", "")

	in := strings.NewReader("/confirm\n/quit\n")
	var out bytes.Buffer
	if err := runChat(context.Background(), cfg, quietLogger(), goal.ID, in, &out); err != nil {
		t.Fatalf("runChat: %v", err)
	}
	if !strings.Contains(out.String(), errNoLiveMessage.Error()) {
		t.Errorf("output missing %q:\n%s", errNoLiveMessage, out.String())
	}
	if n := len(srv.Confirmations()); n != 0 {
		t.Errorf("confirmations = %d, want 0", n)
	}
}

func TestParseAnswers(t *testing.T) {
	t.Parallel()

	cl := directive.Checklist{Items: []directive.ChecklistItem{
		{ID: directive.IntID(1), Kind: directive.KindBoolean, Required: true},
		{ID: directive.StringID("hours"), Kind: directive.KindNumber},
		{ID: directive.StringID("notes"), Kind: directive.KindText},
	}}

	tests := []struct {
		name    string
		args    string
		want    map[string]any
		wantErr bool
	}{
		{"all kinds", "1=да; hours=2.5; notes=felt good", map[string]any{"1": true, "hours": 2.5, "notes": "felt good"}, false},
		{"empty", "", map[string]any{}, false},
		{"trailing separator", "1=no;", map[string]any{"1": false}, false},
		{"unknown item", "steps=3", nil, true},
		{"missing value", "hours", nil, true},
		{"not a number", "hours=lots", nil, true},
		{"not yes or no", "1=maybe", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseAnswers(cl, tt.args)
			if tt.wantErr {
				if !errors.Is(err, errBadCommand) {
					t.Fatalf("parseAnswers(%q) error = %v, want errBadCommand", tt.args, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAnswers(%q): %v", tt.args, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("answers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNeedsWarning(t *testing.T) {
	t.Parallel()

	if needsWarning(errors.New("post failed")) {
		t.Error("transport errors are rendered by the session and must not be printed twice")
	}
	if !needsWarning(errNoLiveMessage) {
		t.Error("errNoLiveMessage should be printed")
	}
}

func TestRefreshFailuresAreShown(t *testing.T) {
	t.Parallel()
	srv, cfg := newChatEnv(t)
	goal := srv.CreateGoal("Read 12 books", "")
	ctx := context.Background()

	client := api.New(cfg.APIURL, "", api.WithLogger(quietLogger()))
	var out bytes.Buffer
	r := newRenderer(&out)
	tracker := progress.NewTracker(client, goal.ID, r.progress, quietLogger())
	sess, err := session.Open(ctx, session.Options{
		GoalID:            goal.ID,
		Client:            client,
		Logger:            quietLogger(),
		PollInitialDelay:  time.Millisecond,
		PollInterval:      time.Millisecond,
		PollMaxAttempts:   50,
		SyncInterval:      time.Hour,
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = sess.Close() }()

	handleLine(ctx, sess, tracker, r, "hello")
	r.render(sess.View())

	out.Reset()
	srv.FailNext(devserver.RouteListMessages, http.StatusInternalServerError, 1)
	handleLine(ctx, sess, tracker, r, "/refresh")
	r.render(sess.View())
	if got := strings.Count(out.String(), "🤖 ❌"); got != 1 {
		t.Errorf("failed message refresh printed %d failure messages, want 1:\n%s", got, out.String())
	}

	out.Reset()
	srv.FailNext(devserver.RouteMilestones, http.StatusInternalServerError, 1)
	handleLine(ctx, sess, tracker, r, "/refresh")
	r.render(sess.View())
	if !strings.Contains(out.String(), "refresh progress") {
		t.Errorf("failed progress refresh not shown:\n%s", out.String())
	}
}
