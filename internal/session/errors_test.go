package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/api"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
)

func TestFailureText(t *testing.T) {
	t.Parallel()

	serverErr := &api.APIError{Status: 500, Method: "POST", URL: "http://x/api/chats/1/messages/", Detail: "boom"}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"no reply", fmt.Errorf("%w after 10 attempts", ErrNoReply), "❌ The assistant didn't answer in time. Please try again."},
		{"no reply with server error", fmt.Errorf("%w after 10 attempts: %w", ErrNoReply, serverErr), "❌ The server ran into a problem. Please try again."},
		{"checklist", fmt.Errorf("%w: Hours", directive.ErrChecklistIncomplete), "❌ Please answer every required question before submitting."},
		{"rate limited", &api.APIError{Status: 429}, "❌ Too many requests. Please wait a moment and try again."},
		{"rejected", &api.APIError{Status: 422}, "❌ The server rejected the request. Please try again."},
		{"timeout", fmt.Errorf("send message: %w", context.DeadlineExceeded), "❌ Couldn't reach the server. Check your connection and try again."},
		{"other", errors.New("weird"), "❌ Something went wrong. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := FailureText(tt.err, false); got != tt.want {
				t.Errorf("FailureText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFailureTextDebug(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("send message: %w", &api.APIError{
		Status: 500,
		Method: "POST",
		URL:    "http://localhost:8000/api/chats/1/messages/",
		Detail: "LLM provider unavailable",
	})
	got := FailureText(err, true)

	if !strings.HasPrefix(got, "❌ Error (Debug Mode):\n\n") {
		t.Errorf("missing debug header: %q", got)
	}
	for _, want := range []string{"500", "POST", "/api/chats/1/messages/", "LLM provider unavailable"} {
		if !strings.Contains(got, want) {
			t.Errorf("debug text missing %q:\n%s", want, got)
		}
	}
}
