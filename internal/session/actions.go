package session

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/ErmakovSemen/ai-goal-tracker/internal/api"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/directive"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/domain"
	"github.com/ErmakovSemen/ai-goal-tracker/internal/transcript"
)

// ActionState is the position of a directive batch in the confirmation
// workflow.
type ActionState int

const (
	StateProposed ActionState = iota
	StateConfirming
	StateCancelling
	StateApplied
	StateCancelled
)

func (st ActionState) String() string {
	switch st {
	case StateProposed:
		return "proposed"
	case StateConfirming:
		return "confirming"
	case StateCancelling:
		return "cancelling"
	case StateApplied:
		return "applied"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("ActionState(%d)", int(st))
	}
}

// Result is the terminal result of a confirmation exchange.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultCancelled Result = "cancelled"
	ResultFailed    Result = "failed"
)

// Outcome describes one confirm, cancel or checklist exchange.
type Outcome struct {
	MessageID int64
	Actions   []directive.PendingAction
	Result    Result
}

type actionOp struct {
	messageID int64
	state     ActionState
}

// Confirm applies the pending actions of the latest assistant message. On
// failure the batch stays proposed and can be retried.
func (s *SyncSession) Confirm(ctx context.Context, messageID int64) (Outcome, error) {
	res, err := s.liveDirectives(messageID)
	if err != nil {
		return Outcome{MessageID: messageID, Result: ResultFailed}, err
	}
	if len(res.PendingActions) == 0 || res.Checklist != nil {
		return Outcome{MessageID: messageID, Result: ResultFailed}, fmt.Errorf("%w: message %d has no confirmable actions", ErrNotLive, messageID)
	}

	return s.runAction(ctx, messageID, StateConfirming, res.PendingActions, ResultApplied, func(ctx context.Context, chatID int64) error {
		return s.client.ConfirmActions(ctx, chatID, res.PendingActions)
	})
}

// Cancel rejects the pending actions of the latest assistant message.
func (s *SyncSession) Cancel(ctx context.Context, messageID int64) (Outcome, error) {
	res, err := s.liveDirectives(messageID)
	if err != nil {
		return Outcome{MessageID: messageID, Result: ResultFailed}, err
	}
	if len(res.PendingActions) == 0 || res.Checklist != nil {
		return Outcome{MessageID: messageID, Result: ResultFailed}, fmt.Errorf("%w: message %d has no cancellable actions", ErrNotLive, messageID)
	}

	return s.runAction(ctx, messageID, StateCancelling, res.PendingActions, ResultCancelled, func(ctx context.Context, chatID int64) error {
		return s.client.CancelActions(ctx, chatID)
	})
}

// SubmitChecklist posts answers to the checklist of the latest assistant
// message together with its schema. Unanswered items take their defaults;
// an incomplete form is refused before any request is made.
func (s *SyncSession) SubmitChecklist(ctx context.Context, messageID int64, answers map[string]any) (Outcome, error) {
	res, err := s.liveDirectives(messageID)
	if err != nil {
		return Outcome{MessageID: messageID, Result: ResultFailed}, err
	}
	if res.Checklist == nil {
		return Outcome{MessageID: messageID, Result: ResultFailed}, fmt.Errorf("%w: message %d has no checklist", ErrNotLive, messageID)
	}

	cl := *res.Checklist
	filled := cl.Defaults()
	maps.Copy(filled, answers)
	if err := cl.Validate(filled); err != nil {
		return Outcome{MessageID: messageID, Result: ResultFailed}, err
	}

	sub := api.ChecklistSubmission{
		ChecklistID: messageID,
		Answers:     filled,
		Title:       cl.Title,
		Items:       cl.Items,
	}
	return s.runAction(ctx, messageID, StateConfirming, nil, ResultApplied, func(ctx context.Context, chatID int64) error {
		return s.client.SubmitChecklist(ctx, chatID, sub)
	})
}

// liveDirectives returns the directives of messageID if it is the latest
// assistant message and its batch is unresolved.
func (s *SyncSession) liveDirectives(messageID int64) (directive.Result, error) {
	if s.isClosed() {
		return directive.Result{}, ErrClosed
	}
	latest, ok := s.log.LatestAssistant()
	if !ok || latest.ID != messageID {
		return directive.Result{}, fmt.Errorf("%w: message %d is not the latest assistant message", ErrNotLive, messageID)
	}

	s.mu.Lock()
	r, resolved := s.resolved[messageID]
	s.mu.Unlock()
	if resolved {
		return directive.Result{}, fmt.Errorf("%w: message %d already %s", ErrNotLive, messageID, r)
	}
	return directive.ExtractFor(latest), nil
}

// runAction enforces the single-flight guard around call and reconciles the
// log on success.
func (s *SyncSession) runAction(
	ctx context.Context,
	messageID int64,
	state ActionState,
	actions []directive.PendingAction,
	success Result,
	call func(ctx context.Context, chatID int64) error,
) (Outcome, error) {
	out := Outcome{MessageID: messageID, Actions: actions, Result: ResultFailed}

	chat := s.currentChat()
	if chat == nil {
		return out, fmt.Errorf("%w: no chat", ErrNotLive)
	}

	s.mu.Lock()
	if s.action != nil {
		s.mu.Unlock()
		return out, ErrActionInFlight
	}
	if r, ok := s.resolved[messageID]; ok {
		s.mu.Unlock()
		return out, fmt.Errorf("%w: message %d already %s", ErrNotLive, messageID, r)
	}
	s.action = &actionOp{messageID: messageID, state: state}
	s.mu.Unlock()
	s.notifyChange()

	defer func() {
		s.mu.Lock()
		s.action = nil
		s.mu.Unlock()
		s.notifyChange()
	}()

	ctx, stop := s.bind(ctx)
	defer stop()

	if err := call(ctx, chat.ID); err != nil {
		err = s.opErr(fmt.Errorf("%s: %w", state, err))
		if !errors.Is(err, ErrClosed) {
			s.logger.Warn("Action failed", "chat_id", chat.ID, "message_id", messageID, "state", state.String(), "error", err)
			s.fail(chat.ID, err)
			s.auditOutcome(chat.ID, out, err)
		}
		return out, err
	}

	s.mu.Lock()
	s.resolved[messageID] = success
	s.mu.Unlock()
	out.Result = success
	s.auditOutcome(chat.ID, out, nil)
	s.logger.Info("Action resolved", "chat_id", chat.ID, "message_id", messageID, "result", string(success), "actions", len(actions))

	// The server appends its acknowledgement; a failed re-fetch is picked up
	// by the next sync tick.
	msgs, err := s.client.ListMessages(ctx, chat.ID)
	if err != nil {
		s.logger.Warn("Failed to reload messages after action", "chat_id", chat.ID, "error", err)
		s.notifyChange()
	} else {
		s.applyFull(ctx, chat.ID, msgs, transcript.EventAssistantMessage)
		s.detectGoal(ctx)
	}
	if success == ResultApplied {
		s.refreshDerived(ctx)
	}
	return out, nil
}

func (s *SyncSession) auditOutcome(chatID int64, out Outcome, err error) {
	ev := transcript.Event{
		GoalID:    s.opts.GoalID,
		ChatID:    chatID,
		EventType: transcript.EventActionOutcome,
		MessageID: out.MessageID,
		Sender:    string(domain.SenderUser),
		Actions:   out.Actions,
		Result:    string(out.Result),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.opts.Transcript.Log(ev)
}
