package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/shared"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/transcript"
)

// Send submits a user turn and polls until the assistant's reply lands or
// the attempt budget runs out. The turn is rendered immediately as an
// optimistic message. On any failure exactly one local failure message is
// appended and the error is returned; cancellation appends nothing.
//
// While Send runs, proactive sync ticks are skipped. A sync request already
// out when Send is called finishes before the turn starts.
func (s *SyncSession) Send(ctx context.Context, text string) error {
	if s.isClosed() {
		return ErrClosed
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyTurn
	}
	s.fetchMu.Lock()
	started := s.inFlight.CompareAndSwap(false, true)
	s.fetchMu.Unlock()
	if !started {
		return ErrTurnInFlight
	}
	defer s.inFlight.Store(false)

	ctx, stop := s.bind(ctx)
	defer stop()

	// The server count to beat: every authoritative row plus the turn
	// about to be posted.
	baseline := len(s.log.Authoritative()) + 1
	local := s.log.NewLocal(domain.SenderUser, text)
	s.notifyChange()

	var chatID int64
	if c := s.currentChat(); c != nil {
		chatID = c.ID
	}
	s.opts.Transcript.Log(transcript.Event{
		GoalID:     s.opts.GoalID,
		ChatID:     chatID,
		EventType:  transcript.EventUserTurn,
		MessageID:  local.ID,
		Sender:     string(domain.SenderUser),
		ContentRaw: text,
	})

	chatID, err := s.runTurn(ctx, text, baseline)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return s.opErr(err)
	}
	s.logger.Warn("Turn failed", "chat_id", chatID, "error", err)
	s.fail(chatID, err)
	return err
}

func (s *SyncSession) runTurn(ctx context.Context, text string, baseline int) (int64, error) {
	chat, err := s.ensureChat(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := s.client.PostMessage(ctx, chat.ID, text, domain.SenderUser, s.opts.Debug); err != nil {
		return chat.ID, fmt.Errorf("send message: %w", err)
	}

	if err := shared.SleepContext(ctx, s.opts.PollInitialDelay); err != nil {
		return chat.ID, err
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.PollMaxAttempts; attempt++ {
		msgs, err := s.client.ListMessages(ctx, chat.ID)
		switch {
		case err != nil && ctx.Err() != nil:
			return chat.ID, ctx.Err()
		case err != nil:
			lastErr = err
			s.logger.Debug("Poll attempt failed", "chat_id", chat.ID, "attempt", attempt, "error", err)
		case len(msgs) > baseline:
			s.applyFull(ctx, chat.ID, msgs, transcript.EventAssistantMessage)
			s.logger.Debug("Reply received", "chat_id", chat.ID, "attempt", attempt, "messages", len(msgs))
			s.detectGoal(ctx)
			return chat.ID, nil
		}

		if attempt < s.opts.PollMaxAttempts {
			if err := shared.SleepContext(ctx, s.opts.PollInterval); err != nil {
				return chat.ID, err
			}
		}
	}

	if lastErr != nil {
		return chat.ID, fmt.Errorf("%w after %d attempts: %w", ErrNoReply, s.opts.PollMaxAttempts, lastErr)
	}
	return chat.ID, fmt.Errorf("%w after %d attempts", ErrNoReply, s.opts.PollMaxAttempts)
}
