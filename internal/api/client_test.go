package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/api"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/devserver"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
)

const testToken = "s3cret"

func newServer(t *testing.T, opts ...devserver.Option) (*devserver.Server, *api.Client) {
	t.Helper()
	srv := devserver.New(opts...)
	ts := httptest.NewServer(srv.Handler(devserver.HandlerConfig{Token: testToken}))
	t.Cleanup(srv.Close)
	t.Cleanup(ts.Close)
	return srv, api.New(ts.URL+"/", testToken, api.WithHTTPClient(ts.Client()))
}

func TestClientChatLifecycle(t *testing.T) {
	t.Parallel()
	srv, c := newServer(t, devserver.WithResponder(devserver.EchoResponder))
	ctx := context.Background()
	goal := srv.CreateGoal("Learn Go", "")

	chats, err := c.ListChats(ctx, goal.ID)
	if err != nil || len(chats) != 0 {
		t.Fatalf("ListChats on fresh goal = (%v, %v)", chats, err)
	}

	chat, err := c.CreateChat(ctx, goal.ID)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.GoalID != goal.ID || chat.ID == 0 {
		t.Errorf("chat = %+v", chat)
	}

	posted, err := c.PostMessage(ctx, chat.ID, "hello", domain.SenderUser, false)
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if posted.Sender != domain.SenderUser || posted.Body != "hello" {
		t.Errorf("posted = %+v", posted)
	}

	all, err := c.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(all) != 2 || all[1].Body != "You said: hello" || !all[1].IsAssistant() {
		t.Fatalf("ListMessages = %+v", all)
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("created_at not decoded")
	}

	since, err := c.ListMessagesSince(ctx, chat.ID, all[0].ID)
	if err != nil {
		t.Fatalf("ListMessagesSince: %v", err)
	}
	if len(since) != 1 || since[0].ID != all[1].ID {
		t.Errorf("ListMessagesSince = %+v, want only the reply", since)
	}
	if got := srv.Calls(devserver.RouteMessagesSince); got != 1 {
		t.Errorf("since route hits = %d, want 1", got)
	}
}

func TestClientDebugFlag(t *testing.T) {
	t.Parallel()
	srv, c := newServer(t, devserver.WithResponder(devserver.EchoResponder))
	ctx := context.Background()
	chat, err := c.CreateChat(ctx, srv.CreateGoal("g", "").ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.PostMessage(ctx, chat.ID, "trace me", domain.SenderUser, true); err != nil {
		t.Fatal(err)
	}
	msgs, err := c.ListMessages(ctx, chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	reply := msgs[len(msgs)-1].Body
	if !strings.Contains(reply, "🔧 DEBUG LOG:") {
		t.Fatalf("reply %q has no debug trailer", reply)
	}
	if got := directive.StripDebugTrailer(reply); got != "You said: trace me" {
		t.Errorf("StripDebugTrailer = %q", got)
	}
}

func TestClientActions(t *testing.T) {
	t.Parallel()
	srv, c := newServer(t)
	ctx := context.Background()
	goal := srv.CreateGoal("Marathon", "")
	chat, err := c.CreateChat(ctx, goal.ID)
	if err != nil {
		t.Fatal(err)
	}
	m := srv.AddMilestone(goal.ID, "Run 5k")
	srv.AddTask(goal.ID, "Buy shoes")

	actions := []directive.PendingAction{
		{Type: directive.ActionCompleteMilestone, Data: map[string]any{"milestone_id": float64(m.ID)}},
		{Type: directive.ActionCreateTask, Data: map[string]any{"title": "Stretch"}},
	}
	if err := c.ConfirmActions(ctx, chat.ID, actions); err != nil {
		t.Fatalf("ConfirmActions: %v", err)
	}
	got := srv.Confirmations()
	if len(got) != 1 {
		t.Fatalf("confirmations = %d, want 1", len(got))
	}
	if diff := cmp.Diff(actions, got[0].Actions); diff != "" {
		t.Errorf("confirmed actions mismatch (-want +got):\n%s", diff)
	}

	milestones, err := c.ListMilestones(ctx, goal.ID)
	if err != nil || len(milestones) != 1 || !milestones[0].Done() {
		t.Errorf("milestones = (%+v, %v), want the milestone completed", milestones, err)
	}
	tasks, err := c.ListTasks(ctx, goal.ID)
	if err != nil || len(tasks) != 2 {
		t.Errorf("tasks = (%+v, %v), want 2", tasks, err)
	}

	if err := c.CancelActions(ctx, chat.ID); err != nil {
		t.Fatalf("CancelActions: %v", err)
	}
	if got := srv.Cancellations(chat.ID); got != 1 {
		t.Errorf("cancellations = %d, want 1", got)
	}
	if err := c.Heartbeat(ctx, chat.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if got := srv.Heartbeats(chat.ID); got != 1 {
		t.Errorf("heartbeats = %d, want 1", got)
	}
}

func TestClientSubmitChecklist(t *testing.T) {
	t.Parallel()
	srv, c := newServer(t)
	ctx := context.Background()
	chat, err := c.CreateChat(ctx, srv.CreateGoal("g", "").ID)
	if err != nil {
		t.Fatal(err)
	}

	sub := api.ChecklistSubmission{
		ChecklistID: 17,
		Answers:     map[string]any{"1": true, "km": 5.5},
		Title:       "Weekly",
		Items: []directive.ChecklistItem{
			{ID: directive.IntID(1), Label: "Ran?", Kind: directive.KindBoolean, Required: true},
			{ID: directive.StringID("km"), Label: "Distance", Kind: directive.KindNumber, Unit: "km"},
		},
	}
	if err := c.SubmitChecklist(ctx, chat.ID, sub); err != nil {
		t.Fatalf("SubmitChecklist: %v", err)
	}
	got := srv.Checklists()
	if len(got) != 1 {
		t.Fatalf("checklists = %d, want 1", len(got))
	}
	if got[0].ChecklistID != 17 || got[0].Title != "Weekly" || got[0].ChatID != chat.ID {
		t.Errorf("submission = %+v", got[0])
	}
	if diff := cmp.Diff(sub.Answers, got[0].Answers); diff != "" {
		t.Errorf("answers mismatch (-want +got):\n%s", diff)
	}
}

func TestClientGetGoalNotFound(t *testing.T) {
	t.Parallel()
	_, c := newServer(t)

	_, err := c.GetGoal(context.Background(), 404)
	if !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("GetGoal(missing) = %v, want ErrNotFound", err)
	}
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not an APIError", err)
	}
	if apiErr.Detail != "Goal not found" || apiErr.Method != http.MethodGet {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClientRejectsBadToken(t *testing.T) {
	t.Parallel()
	srv := devserver.New()
	ts := httptest.NewServer(srv.Handler(devserver.HandlerConfig{Token: testToken}))
	t.Cleanup(ts.Close)

	c := api.New(ts.URL, "wrong", api.WithHTTPClient(ts.Client()))
	_, err := c.ListChats(context.Background(), 1)
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("ListChats with bad token = %v, want 401", err)
	}
	if apiErr.Detail != "Not authenticated" {
		t.Errorf("Detail = %q", apiErr.Detail)
	}
}

func TestClientSendsHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(ts.Close)

	c := api.New(ts.URL, testToken, api.WithHTTPClient(ts.Client()))
	if _, err := c.ListChats(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if auth := got.Get("Authorization"); auth != "Bearer "+testToken {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Get(api.RequestIDHeader) == "" {
		t.Error("request id header missing")
	}
}

func TestClientTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	c := api.New(ts.URL, "", api.WithHTTPClient(ts.Client()), api.WithTimeout(20*time.Millisecond))
	_, err := c.ListChats(context.Background(), 1)
	if err == nil {
		t.Fatal("ListChats succeeded past the timeout")
	}
	if !api.IsTransient(err) {
		t.Errorf("IsTransient(%v) = false, want true", err)
	}
}

func TestAPIErrorDetailDecoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"detail string", 404, `{"detail":"Chat not found"}`, "Chat not found"},
		{"validation list", 422, `{"detail":[{"msg":"field required"},{"msg":"value is not a valid integer"}]}`, "field required; value is not a valid integer"},
		{"error key", 500, `{"error":"LLM unavailable"}`, "LLM unavailable"},
		{"plain text", 502, `Bad Gateway`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(ts.Close)

			c := api.New(ts.URL, "", api.WithHTTPClient(ts.Client()))
			err := c.Heartbeat(context.Background(), 1)
			var apiErr *api.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Heartbeat = %v, want APIError", err)
			}
			if apiErr.Status != tt.status || apiErr.Detail != tt.wantDetail {
				t.Errorf("APIError = {Status: %d, Detail: %q}, want {%d, %q}", apiErr.Status, apiErr.Detail, tt.status, tt.wantDetail)
			}
			if string(apiErr.Body) != tt.body {
				t.Errorf("Body = %q, want raw payload", apiErr.Body)
			}
		})
	}
}

func TestAPIErrorDiagnostic(t *testing.T) {
	t.Parallel()

	e := &api.APIError{
		Status: 500,
		Method: http.MethodPost,
		URL:    "http://localhost:8000/api/chats/1/messages/",
		Detail: "boom",
		Body:   []byte(`{"detail":"boom"}`),
	}
	want := strings.Join([]string{
		"Status: 500 Internal Server Error",
		"Detail: boom",
		"Method: POST",
		"URL: http://localhost:8000/api/chats/1/messages/",
		"Payload:",
		"{",
		`  "detail": "boom"`,
		"}",
	}, "\n")
	if diff := cmp.Diff(want, e.Diagnostic()); diff != "" {
		t.Errorf("Diagnostic mismatch (-want +got):\n%s", diff)
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&api.APIError{Status: 429}, true},
		{&api.APIError{Status: 503}, true},
		{&api.APIError{Status: 404}, false},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("unexpected EOF"), true},
		{&json.SyntaxError{}, false},
	}
	for _, tt := range tests {
		if got := api.IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
