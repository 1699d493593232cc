package session

import (
	"context"
	"errors"
	"strings"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/api"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
)

var (
	// ErrTurnInFlight is returned by Send while another turn is being polled.
	ErrTurnInFlight = errors.New("a message is already being sent")
	// ErrActionInFlight is returned while a confirm, cancel or checklist
	// submission is running.
	ErrActionInFlight = errors.New("an action is already in progress")
	// ErrNotLive is returned for directives that are not on the latest
	// assistant message or were already resolved.
	ErrNotLive = errors.New("directives are not actionable")
	// ErrNoReply is returned when the assistant did not answer within the
	// poll budget.
	ErrNoReply = errors.New("no reply from assistant")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
	// ErrEmptyTurn is returned by Send for blank text.
	ErrEmptyTurn = errors.New("message is empty")
)

// FailureText renders err as the body of a synthesized assistant message.
// Debug mode interpolates every diagnostic detail; otherwise the text is a
// short human sentence.
func FailureText(err error, debug bool) string {
	if debug {
		return "❌ Error (Debug Mode):\n\n" + diagnostic(err)
	}

	var apiErr *api.APIError
	switch {
	case errors.Is(err, ErrNoReply) && !errors.As(err, &apiErr):
		return "❌ The assistant didn't answer in time. Please try again."
	case errors.Is(err, directive.ErrChecklistIncomplete):
		return "❌ Please answer every required question before submitting."
	case errors.As(err, &apiErr) && apiErr.Status == 429:
		return "❌ Too many requests. Please wait a moment and try again."
	case errors.As(err, &apiErr) && apiErr.Status >= 500:
		return "❌ The server ran into a problem. Please try again."
	case errors.As(err, &apiErr):
		return "❌ The server rejected the request. Please try again."
	case errors.Is(err, context.DeadlineExceeded) || api.IsTransient(err):
		return "❌ Couldn't reach the server. Check your connection and try again."
	default:
		return "❌ Something went wrong. Please try again."
	}
}

func diagnostic(err error) string {
	var b strings.Builder
	b.WriteString(err.Error())
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		b.WriteString("\n\n")
		b.WriteString(apiErr.Diagnostic())
	}
	return b.String()
}
